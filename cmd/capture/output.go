package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs a response in the chosen format. Responses wrap their
// payload in "data"; tables and raw output print the payload only.
func printResult(resp map[string]any) {
	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(resp) //nolint:errcheck
		return
	}

	payload, ok := resp["data"]
	if !ok {
		payload = resp
	}
	switch val := payload.(type) {
	case map[string]any:
		if outputFormat == "raw" {
			printRaw(val)
			return
		}
		printTable(val)
	case []any:
		printRows(val)
	default:
		fmt.Println(val)
	}
}

func printRaw(data map[string]any) {
	if outputField != "" {
		if v, ok := data[outputField]; ok {
			fmt.Println(v)
		}
		return
	}
	for _, k := range sortedKeys(data) {
		fmt.Printf("%s=%v\n", k, data[k])
	}
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	keys := sortedKeys(data)
	for _, k := range keys {
		v := data[k]
		switch val := v.(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, v)
		}
	}
	w.Flush()
}

// printRows prints a list of objects with one column per key of the first row.
func printRows(rows []any) {
	if len(rows) == 0 {
		fmt.Println("No entries found.")
		return
	}
	first, ok := rows[0].(map[string]any)
	if !ok {
		fmt.Println(joinAny(rows))
		return
	}
	cols := sortedKeys(first)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range rows {
		row, _ := r.(map[string]any)
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = fmt.Sprintf("%v", row[c])
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
