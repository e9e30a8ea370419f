package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicdocs/docgate/internal/config"
	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/loader"
	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/statussync"
)

// withApp builds the gateway stack for one command and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withProvider is withApp for commands that call the provider.
func withProvider(fn func(a *app) error) error {
	return withApp(func(a *app) error {
		if err := a.requireConfigured(); err != nil {
			return err
		}
		return fn(a)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload files or directories to the provider",
	Long: `Upload files or directories to the provider. Directories are walked
recursively; dotfiles are skipped. More than one file is sent as a batch.

Examples:
  docgate upload ./discharge-summary.pdf --folder cardiology
  docgate upload ./scans/ --meta ward=3B --meta source=scanner`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		meta, _ := cmd.Flags().GetStringToString("meta")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		return withProvider(func(a *app) error {
			paths, err := loader.Expand(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no files found")
			}

			metadata := make(map[string]any, len(meta))
			for k, v := range meta {
				metadata[k] = v
			}
			files, err := loader.Load(cmd.Context(), paths, loader.Options{
				Metadata:    metadata,
				Concurrency: concurrency,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}

			if len(files) == 1 {
				res, err := a.gw.UploadFile(cmd.Context(), files[0], folder)
				if err != nil {
					return fmt.Errorf("uploading %s: %w", files[0].Name, err)
				}
				if asJSON {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "%s\t%s\n", res.Name, res.DocumentID)
				return nil
			}

			printStep("Uploading %d files in batches of %d", len(files), a.gw.BatchSize())
			res := a.gw.UploadFiles(cmd.Context(), files, folder)
			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				for _, r := range res.Results {
					if r.Success {
						fmt.Fprintf(out, "%s %s\t%s\n", colorize(colorGreen, "✓"), r.Name, r.DocumentID)
					} else {
						fmt.Fprintf(out, "%s %s\t%s\n", colorize(colorRed, "✗"), r.Name, r.Error)
					}
				}
			}
			if res.FailedCount > 0 {
				return fmt.Errorf("%d of %d files failed", res.FailedCount, len(files))
			}
			printSuccess("Uploaded %d files", res.UploadedCount)
			return nil
		})
	},
}

func init() {
	uploadCmd.Flags().String("folder", "", "target folder (default: provider.default_folder)")
	uploadCmd.Flags().StringToString("meta", nil, "metadata key=value added to every file")
	uploadCmd.Flags().Int("concurrency", 4, "files read in parallel")
	uploadCmd.Flags().Bool("json", false, "print the result as JSON")
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the provider's document agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := gateway.QueryOptions{}
		opts.Folder, _ = flags.GetString("folder")
		opts.ChatID, _ = flags.GetString("chat-id")
		opts.UserID, _ = flags.GetString("user-id")
		if flags.Changed("temperature") {
			t, _ := flags.GetFloat64("temperature")
			opts.Temperature = &t
		}
		if flags.Changed("max-tokens") {
			n, _ := flags.GetInt("max-tokens")
			opts.MaxTokens = &n
		}
		asJSON, _ := flags.GetBool("json")
		out := cmd.OutOrStdout()

		return withProvider(func(a *app) error {
			resp, err := a.gw.AgentQuery(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, resp)
			}

			fmt.Fprintln(out, resp.Response)
			if len(resp.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, colorize(colorBold, "Sources:"))
				for _, s := range resp.Sources {
					fmt.Fprintf(out, "  %s", s.DocumentID)
					if s.Score > 0 {
						fmt.Fprintf(out, " [score: %.3f]", s.Score)
					}
					fmt.Fprintln(out)
				}
			}
			if resp.ChatID != "" {
				printStatus("Chat", "%s (continue with --chat-id)", resp.ChatID)
			}
			return nil
		})
	},
}

func init() {
	queryCmd.Flags().String("folder", "", "restrict the agent to one folder")
	queryCmd.Flags().String("chat-id", "", "continue an existing conversation")
	queryCmd.Flags().String("user-id", "", "end user the question is asked for")
	queryCmd.Flags().Float64("temperature", 0, "sampling temperature between 0 and 1")
	queryCmd.Flags().Int("max-tokens", 0, "maximum answer length in tokens")
	queryCmd.Flags().Bool("json", false, "print the full response as JSON")
}

// --- retrieve ---

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Retrieve documents from the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := gateway.RetrieveOptions{Query: strings.Join(args, " ")}
		opts.Folder, _ = flags.GetString("folder")
		opts.Limit, _ = flags.GetInt("limit")
		opts.Offset, _ = flags.GetInt("offset")
		if filters, _ := flags.GetStringToString("filter"); len(filters) > 0 {
			opts.Filters = make(map[string]any, len(filters))
			for k, v := range filters {
				opts.Filters[k] = v
			}
		}
		asJSON, _ := flags.GetBool("json")
		out := cmd.OutOrStdout()

		return withProvider(func(a *app) error {
			docs, err := a.gw.RetrieveDocuments(cmd.Context(), opts)
			if err != nil {
				return err
			}
			hasMore := gateway.HasMore(len(docs), opts.Limit)
			if asJSON {
				return printJSON(out, map[string]any{"documents": docs, "hasMore": hasMore})
			}

			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tFOLDER")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, d.Folder)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if hasMore {
				printStatus("More", "next page with --offset %d", opts.Offset+len(docs))
			}
			return nil
		})
	},
}

func init() {
	retrieveCmd.Flags().String("folder", "", "restrict to one folder")
	retrieveCmd.Flags().Int("limit", 10, "page size")
	retrieveCmd.Flags().Int("offset", 0, "documents to skip")
	retrieveCmd.Flags().StringToString("filter", nil, "metadata filter key=value")
	retrieveCmd.Flags().Bool("json", false, "print the page as JSON")
}

// --- doc-status ---

var docStatusCmd = &cobra.Command{
	Use:   "doc-status <document-id>",
	Short: "Show a document's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		out := cmd.OutOrStdout()

		return withProvider(func(a *app) error {
			ctx := cmd.Context()
			if wait {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			for {
				st, err := a.gw.GetProcessingStatus(ctx, args[0])
				if err != nil {
					return err
				}
				line := string(st.Status)
				if st.Progress > 0 && !st.Status.Terminal() {
					line += fmt.Sprintf(" (%.0f%%)", st.Progress*100)
				}
				if st.Message != "" {
					line += ": " + st.Message
				}
				fmt.Fprintf(out, "%s\t%s\n", st.DocumentID, colorize(syncStatusColor(string(st.Status)), line))

				if !wait || st.Status.Terminal() {
					if st.Status == provider.StatusFailed {
						return fmt.Errorf("processing of %s failed", args[0])
					}
					return nil
				}
				select {
				case <-ctx.Done():
					return fmt.Errorf("gave up waiting for %s: %w", args[0], ctx.Err())
				case <-time.After(interval):
				}
			}
		})
	},
}

func init() {
	docStatusCmd.Flags().Bool("wait", false, "poll until processing completes or fails")
	docStatusCmd.Flags().Duration("interval", 5*time.Second, "poll interval with --wait")
	docStatusCmd.Flags().Duration("timeout", 10*time.Minute, "give up after this long with --wait")
}

// --- folder ---

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage provider folders",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		return withProvider(func(a *app) error {
			info, err := a.gw.CreateFolder(cmd.Context(), args[0], desc)
			if err != nil {
				return err
			}
			printSuccess("Created folder %s", info.Name)
			return nil
		})
	},
}

var folderGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withProvider(func(a *app) error {
			info, err := a.gw.GetFolderInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if info == nil {
				return fmt.Errorf("folder %q not found", args[0])
			}
			fmt.Fprintf(out, "%s\t%d documents", info.Name, info.DocumentCount)
			if info.Description != "" {
				fmt.Fprintf(out, "\t%s", info.Description)
			}
			fmt.Fprintln(out)
			return nil
		})
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(func(a *app) error {
			if err := a.gw.DeleteFolder(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess("Deleted folder %s", args[0])
			return nil
		})
	},
}

func init() {
	folderCreateCmd.Flags().String("description", "", "folder description")
	folderCmd.AddCommand(folderCreateCmd, folderGetCmd, folderDeleteCmd)
}

// --- uploads ---

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "List uploads recorded by this gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		return withApp(func(a *app) error {
			uploads, err := a.ledger.Uploads(limit, status)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, uploads)
			}
			if len(uploads) == 0 {
				fmt.Fprintln(out, "No uploads recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UPLOADED\tNAME\tDOCUMENT\tSTATUS")
			for _, u := range uploads {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					u.CreatedAt.Local().Format(time.DateTime),
					u.Name,
					u.DocumentID,
					colorize(syncStatusColor(u.SyncStatus), u.SyncStatus),
				)
			}
			return tw.Flush()
		})
	},
}

var uploadsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Poll the provider once for every upload whose status check is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(func(a *app) error {
			worker := statussync.NewWorker(a.store, a.gw, a.cfg.StatusSync.PollInterval)
			polled := 0
			for {
				worked, err := worker.RunOnce(cmd.Context())
				if err != nil {
					printWarning("%v", err)
				}
				if !worked {
					break
				}
				polled++
			}
			printSuccess("Polled %d documents", polled)
			return nil
		})
	},
}

func init() {
	uploadsCmd.Flags().String("status", "", "only show this sync status")
	uploadsCmd.Flags().Int("limit", 20, "maximum number of uploads to list")
	uploadsCmd.Flags().Bool("json", false, "print as JSON")
	uploadsCmd.AddCommand(uploadsSyncCmd)
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running gateway and its provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var body map[string]string
		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		printStatus("Gateway", "%s", body["status"])

		resp, err = client.get(cmd.Context(), "/health/provider")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &body); err != nil {
			printStatus("Provider", "%s", colorize(colorRed, err.Error()))
			return errors.New("provider is not healthy")
		}
		printStatus("Provider", "%s", body["provider"])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		if err := cfg.Validate(); err != nil {
			printWarning("configuration is invalid:\n%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [api-key]",
	Short: "Store the provider API key in the platform secret store",
	Long: `Store the provider API key in the platform secret store. Without an
argument the key is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading key: %w", err)
			}
			key = line
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("API key is empty")
		}
		if err := config.SetAPIKey(key); err != nil {
			return err
		}
		printSuccess("API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetKeyCmd)
}
