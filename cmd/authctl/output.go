package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		printJSON(data)
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
		} else {
			for _, k := range sortedKeys(data) {
				fmt.Printf("%s=%v\n", k, data[k])
			}
		}
	default: // table
		printTable(data)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
	w.Flush()
}

// session is the subset of auth.sessions entries the CLI shows.
type session struct {
	ID              string         `json:"id"`
	Current         bool           `json:"current"`
	Internal        bool           `json:"internal"`
	Origin          string         `json:"origin"`
	Credentials     string         `json:"credentials"`
	CredentialsData map[string]any `json:"credentials_data"`
	CreatedAt       time.Time      `json:"created_at"`
}

func printSessions(sessions []session) {
	if outputFormat == "json" {
		printJSON(sessions)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREDENTIALS\tUSER\tORIGIN\tCREATED\t")
	for _, s := range sessions {
		id := s.ID
		if s.Current {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", id, s.Credentials, userOf(s.CredentialsData), s.Origin,
			s.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

// userOf finds the username in a credential dump, following token parents.
func userOf(data map[string]any) string {
	for data != nil {
		if name, ok := data["username"].(string); ok {
			return name
		}
		if key, ok := data["api_key"].(map[string]any); ok {
			return fmt.Sprintf("api_key:%v", key["name"])
		}
		parent, _ := data["parent"].(map[string]any)
		data, _ = parent["credentials_data"].(map[string]any)
	}
	return "-"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
