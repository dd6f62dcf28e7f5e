package rpc

func (s *Server) buildMethods() map[string]method {
	return map[string]method{
		"auth.sessions":                        {fn: s.sessions},
		"auth.terminate_session":               {fn: s.terminateSession},
		"auth.terminate_other_sessions":        {fn: s.terminateOtherSessions},
		"auth.check_user":                      {fn: s.checkPassword},
		"auth.check_password":                  {fn: s.checkPassword},
		"auth.generate_token":                  {fn: s.generateToken, noAuth: true},
		"auth.get_token":                       {fn: s.getToken},
		"auth.get_token_for_action":            {fn: s.getTokenForAction},
		"auth.get_token_for_shell_application": {fn: s.getTokenForShell},
		"auth.two_factor_auth":                 {fn: s.twoFactorAuth, noAuth: true},
		"auth.login":                           {fn: s.login, noAuth: true, throttled: true},
		"auth.login_with_api_key":              {fn: s.loginWithAPIKey, noAuth: true, throttled: true},
		"auth.login_with_token":                {fn: s.loginWithToken, noAuth: true, throttled: true},
		"auth.token":                           {fn: s.deprecatedToken, noAuth: true, throttled: true},
		"auth.logout":                          {fn: s.logout, noAuth: true},
		"auth.audit_log":                       {fn: s.auditLog},

		"auth.twofactor.config":           {fn: s.twoFactorConfig},
		"auth.twofactor.update":           {fn: s.twoFactorUpdate},
		"auth.twofactor.verify":           {fn: s.twoFactorVerify},
		"auth.twofactor.renew_secret":     {fn: s.twoFactorRenewSecret},
		"auth.twofactor.provisioning_uri": {fn: s.twoFactorProvisioningURI},

		// Subscriptions are authorized per collection with SUBSCRIBE.
		"core.subscribe":   {fn: s.subscribe, noAuth: true},
		"core.unsubscribe": {fn: s.unsubscribe, noAuth: true},
	}
}
