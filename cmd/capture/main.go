package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "capture",
	Short: "Data capture CLI",
	Long:  "A CLI for managing research data collections, their permissions and datasets.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(principalCmd())
	rootCmd.AddCommand(collectionCmd())
	rootCmd.AddCommand(permsCmd())
	rootCmd.AddCommand(datasetCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(auditCmd())
}

// run executes a request and prints its result. Errors are printed rather than
// returned so cobra does not repeat the usage text.
func run(call func(*Client) (map[string]any, error)) error {
	result, err := call(newClient())
	if err != nil {
		printError(err.Error())
		return nil
	}
	printResult(result)
	return nil
}

func collectionPath(id string, parts ...string) string {
	return "/v1/collections/" + url.PathEscape(id) + strings.Join(parts, "")
}

// parseDate accepts YYYY-MM-DD and returns it as an RFC 3339 timestamp.
func parseDate(flag, value string) (string, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return "", fmt.Errorf("--%s must be a date like 2024-03-01", flag)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// --- login ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <principal-id>",
		Short: "Act as the given principal in later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				printError("principal id must be a number")
				return nil
			}
			cfg.Principal = args[0]
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = addr
			}
			client := newClient()
			client.principal = cfg.Principal
			result, err := client.get("/v1/principals/self")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address to store alongside the principal")
	return cmd
}

// --- principal ---

func principalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "principal", Short: "Manage principals"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a principal (admins only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			kind, _ := cmd.Flags().GetString("kind")
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/v1/principals", map[string]any{
					"display_name": name,
					"email":        email,
					"kind":         kind,
				})
			})
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("kind", "", "Principal kind: ordinary, admin, super_admin")

	selfCmd := &cobra.Command{
		Use:   "self",
		Short: "Show the current principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/principals/self")
			})
		},
	}

	cmd.AddCommand(createCmd, selfCmd)
	return cmd
}

// --- collection ---

// detailsBody collects the collection detail flags into a request body.
func detailsBody(cmd *cobra.Command) (map[string]any, error) {
	body := map[string]any{}
	name, _ := cmd.Flags().GetString("name")
	desc, _ := cmd.Flags().GetString("description")
	global, _ := cmd.Flags().GetBool("global")
	spatial, _ := cmd.Flags().GetString("spatial")
	body["name"] = name
	body["description"] = desc
	body["global_coverage"] = global
	body["spatial_coverage"] = spatial
	for _, f := range []string{"start", "end"} {
		v, _ := cmd.Flags().GetString(f)
		if v == "" {
			continue
		}
		ts, err := parseDate(f, v)
		if err != nil {
			return nil, err
		}
		body["coverage_"+f] = ts
	}
	return body, nil
}

func addDetailFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Collection name")
	cmd.Flags().String("description", "", "Collection description")
	cmd.Flags().Bool("global", false, "The collection has global spatial coverage")
	cmd.Flags().String("spatial", "", "Spatial coverage (KML)")
	cmd.Flags().String("start", "", "Temporal coverage start (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Temporal coverage end (YYYY-MM-DD)")
}

func collectionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "collection", Short: "Manage collections"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a collection owned by the current principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := detailsBody(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if cmd.Flags().Changed("all-registered") {
				caps, _ := cmd.Flags().GetStringSlice("all-registered")
				body["all_registered"] = flagsBody(caps)
			}
			if cmd.Flags().Changed("anonymous") {
				caps, _ := cmd.Flags().GetStringSlice("anonymous")
				body["anonymous"] = flagsBody(caps)
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/v1/collections", body)
			})
		},
	}
	addDetailFlags(createCmd)
	createCmd.Flags().StringSlice("all-registered", nil, "Initial capabilities for all registered users")
	createCmd.Flags().StringSlice("anonymous", nil, "Initial capabilities for anonymous users")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List collections owned by the current principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/collections")
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get(collectionPath(args[0]))
			})
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the details of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := detailsBody(cmd)
			if err != nil {
				printError(err.Error())
				return nil
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.put(collectionPath(args[0]), body)
			})
		},
	}
	addDetailFlags(updateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a collection and its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete(collectionPath(args[0])); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Collection %s deleted.", args[0]))
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, updateCmd, deleteCmd)
	return cmd
}

// --- perms ---

var capabilityNames = []string{"view", "update", "import", "export", "delete", "md_register", "rac"}

// flagsBody turns a list of capability names into a flags object. "all" sets
// every flag.
func flagsBody(caps []string) map[string]bool {
	flags := make(map[string]bool, len(capabilityNames))
	for _, n := range capabilityNames {
		flags[n] = false
	}
	for _, c := range caps {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "all" {
			for _, n := range capabilityNames {
				flags[n] = true
			}
			continue
		}
		if _, ok := flags[c]; ok {
			flags[c] = true
		}
	}
	return flags
}

func permsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "perms", Short: "Manage collection permissions"}

	listCmd := &cobra.Command{
		Use:   "list <collection-id>",
		Short: "List the grants of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get(collectionPath(args[0], "/permissions"))
			})
		},
	}

	effectiveCmd := &cobra.Command{
		Use:   "effective <collection-id>",
		Short: "Show the current principal's effective permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get(collectionPath(args[0], "/permissions/effective"))
			})
		},
	}

	grantCmd := &cobra.Command{
		Use:   "grant <collection-id> <principal-id>",
		Short: "Grant capabilities to a principal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				printError("principal id must be a number")
				return nil
			}
			caps, _ := cmd.Flags().GetStringSlice("caps")
			return run(func(c *Client) (map[string]any, error) {
				return c.post(collectionPath(args[0], "/permissions"), map[string]any{
					"insert": []map[string]any{{"principal_id": pid, "flags": flagsBody(caps)}},
				})
			})
		},
	}
	grantCmd.Flags().StringSlice("caps", nil, "Capabilities to grant, e.g. view,export or all")

	updateCmd := &cobra.Command{
		Use:   "update <collection-id> <grant-id>",
		Short: "Replace the capabilities of an existing grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				printError("grant id must be a number")
				return nil
			}
			caps, _ := cmd.Flags().GetStringSlice("caps")
			return run(func(c *Client) (map[string]any, error) {
				return c.post(collectionPath(args[0], "/permissions"), map[string]any{
					"update": []map[string]any{{"grant_id": gid, "flags": flagsBody(caps)}},
				})
			})
		},
	}
	updateCmd.Flags().StringSlice("caps", nil, "Capabilities the grant allows; omit to deny everything")

	revokeCmd := &cobra.Command{
		Use:   "revoke <collection-id> <grant-id>",
		Short: "Remove a grant so the principal falls back to inherited permissions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				printError("grant id must be a number")
				return nil
			}
			_, err = newClient().post(collectionPath(args[0], "/permissions"), map[string]any{
				"delete": []int64{gid},
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Grant %d revoked.", gid))
			return nil
		},
	}

	cmd.AddCommand(listCmd, effectiveCmd, grantCmd, updateCmd, revokeCmd)
	return cmd
}

// --- dataset ---

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dataset", Short: "Manage datasets"}

	importCmd := &cobra.Command{
		Use:   "import <collection-id> <name>",
		Short: "Register a dataset in a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extractable, _ := cmd.Flags().GetBool("extractable")
			until, _ := cmd.Flags().GetString("restricted-until")
			body := map[string]any{
				"name":        args[1],
				"extractable": extractable,
			}
			if until != "" {
				ts, err := parseDate("restricted-until", until)
				if err != nil {
					printError(err.Error())
					return nil
				}
				body["restricted"] = true
				body["restricted_until"] = ts
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.post(collectionPath(args[0], "/datasets"), body)
			})
		},
	}
	importCmd.Flags().Bool("extractable", false, "Metadata can be extracted from the dataset")
	importCmd.Flags().String("restricted-until", "", "Restrict access until this date (YYYY-MM-DD)")

	listCmd := &cobra.Command{
		Use:   "list <collection-id>",
		Short: "List the datasets of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get(collectionPath(args[0], "/datasets"))
			})
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

// --- register ---

// splitPair parses "id=label" values.
func splitPair(flag, v string) (string, string, error) {
	id, label, ok := strings.Cut(v, "=")
	if !ok || id == "" || label == "" {
		return "", "", fmt.Errorf("--%s values look like id=name", flag)
	}
	return id, label, nil
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <collection-id>",
		Short: "Publish collection metadata to the external registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partyFlags, _ := cmd.Flags().GetStringArray("party")
			activityFlags, _ := cmd.Flags().GetStringArray("activity")
			rightsType, _ := cmd.Flags().GetString("rights")
			statement, _ := cmd.Flags().GetString("statement")

			var parties, activities []map[string]string
			for _, p := range partyFlags {
				id, name, err := splitPair("party", p)
				if err != nil {
					printError(err.Error())
					return nil
				}
				parties = append(parties, map[string]string{"id": id, "name": name})
			}
			for _, a := range activityFlags {
				id, title, err := splitPair("activity", a)
				if err != nil {
					printError(err.Error())
					return nil
				}
				activities = append(activities, map[string]string{"id": id, "title": title})
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.post(collectionPath(args[0], "/register"), map[string]any{
					"parties":    parties,
					"activities": activities,
					"rights":     map[string]string{"type": rightsType, "statement": statement},
				})
			})
		},
	}
	cmd.Flags().StringArray("party", nil, "Associated party as id=name (repeatable)")
	cmd.Flags().StringArray("activity", nil, "Associated activity as id=title (repeatable)")
	cmd.Flags().String("rights", "", "Licence or rights type")
	cmd.Flags().String("statement", "", "Rights statement")
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Query the audit trail"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, f := range []string{"owner", "operator"} {
				if v, _ := cmd.Flags().GetInt64(f); v != 0 {
					q.Set(f+"_id", strconv.FormatInt(v, 10))
				}
			}
			if v, _ := cmd.Flags().GetString("since"); v != "" {
				ts, err := parseDate("since", v)
				if err != nil {
					printError(err.Error())
					return nil
				}
				q.Set("since", ts)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/v1/audit-events?" + q.Encode())
			})
		},
	}
	listCmd.Flags().Int64("owner", 0, "Collection owner id (admins only)")
	listCmd.Flags().Int64("operator", 0, "Acting principal id")
	listCmd.Flags().String("since", "", "Only events on or after this date (YYYY-MM-DD)")
	listCmd.Flags().Int("limit", 50, "Maximum number of events")
	listCmd.Flags().Int("offset", 0, "Number of events to skip")

	cmd.AddCommand(listCmd)
	return cmd
}
