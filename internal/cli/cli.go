// Package cli implements the batchctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
)

// Batches is the part of the batch service the commands drive.
type Batches interface {
	AddPromptToBatch(ctx context.Context, p batches.AddPromptParams) (batches.AddResult, error)
	TriggerBatchRequest(ctx context.Context) batches.TriggerResult
	CheckBatchStatus(ctx context.Context, batchID string) (models.BatchRequest, error)
	RefreshOpenBatches(ctx context.Context) ([]models.BatchRequest, error)
	ProcessBatchResponses(ctx context.Context) (batches.ProcessResult, error)
	ListQueue(ctx context.Context) (batches.Queue, error)
	DeletePrompt(ctx context.Context, customID string) error
}

type Catalog interface {
	Resolve(model string) (models.ModelCard, bool)
}

type ChatProviders interface {
	Chat(name string) (providers.ChatCompletions, error)
}

// Env is what a command needs once configuration has been loaded.
type Env struct {
	Batches   Batches
	Catalog   Catalog
	Providers ChatProviders
	Close     func()
}

// Loader builds an Env from configuration.
type Loader func(ctx context.Context, opts config.Options) (*Env, error)

type rootFlags struct {
	configFile string
	envFile    string
}

// NewRootCommand assembles batchctl. Output goes to out.
func NewRootCommand(load Loader, out io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Inspect and drive the batch prompt queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to lifehub.yaml")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file")

	withEnv := func(run func(cmd *cobra.Command, args []string, env *Env) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			env, err := load(cmd.Context(), config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
			if err != nil {
				return err
			}
			if env.Close != nil {
				defer env.Close()
			}
			return run(cmd, args, env)
		}
	}

	root.AddCommand(
		newListCommand(withEnv),
		newAddCommand(withEnv),
		newTriggerCommand(withEnv),
		newCheckCommand(withEnv),
		newRefreshCommand(withEnv),
		newProcessCommand(withEnv),
		newDeletePromptCommand(withEnv),
		newAskCommand(withEnv),
	)
	return root
}

type runWithEnv func(run func(cmd *cobra.Command, args []string, env *Env) error) func(*cobra.Command, []string) error

func newListCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued prompts and recent batch jobs",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, _ []string, env *Env) error {
			queue, err := env.Batches.ListQueue(cmd.Context())
			if err != nil {
				return err
			}
			prompts := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("CUSTOM ID", "REQUEST", "MODEL", "CONVERSATION", "TITLE")
			for _, p := range queue.Prompts {
				prompts.Row(p.CustomID, p.RequestID, p.Model, p.ConversationID, p.Title)
			}
			jobs := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("BATCH", "PROVIDER", "MODEL", "STATUS", "DONE/FAILED/TOTAL", "CREATED")
			for _, r := range queue.Requests {
				jobs.Row(r.ID, r.Provider, r.Model, r.Status,
					fmt.Sprintf("%d/%d/%d", r.RequestCountsCompleted, r.RequestCountsFailed, r.RequestCountsTotal),
					r.CreatedAt.Format(time.RFC3339))
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", prompts, jobs)
			return err
		}),
	}
}

func newAddCommand(withEnv runWithEnv) *cobra.Command {
	var (
		params batches.AddPromptParams
		tags   string
	)
	cmd := &cobra.Command{
		Use:   "add [prompt]",
		Short: "Queue a prompt for the next batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			params.Prompt = strings.Join(args, " ")
			params.Parameters.Tags = tags
			res, err := env.Batches.AddPromptToBatch(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", res.Status, res.CustomID, res.ConversationID)
			return nil
		}),
	}
	fs := cmd.Flags()
	fs.StringVar(&params.UserID, "user", "", "owner of the prompt")
	fs.StringVar(&params.Model, "model", "", "model name or alias")
	fs.StringVar(&params.ConversationID, "conversation", models.RequestIDNew, "conversation id, or new")
	fs.StringVar(&params.Parameters.Title, "title", "", "conversation title")
	fs.StringVar(&params.Parameters.Category, "category", "", "conversation category")
	fs.StringVar(&tags, "tags", "", "comma separated tags")
	fs.StringVar(&params.Parameters.Context, "context", "", "context prompt")
	fs.StringArrayVar(&params.ImagePaths, "image", nil, "image file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newTriggerCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Submit every queued prompt to its provider",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, _ []string, env *Env) error {
			res := env.Batches.TriggerBatchRequest(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d prompt(s)\n", res.Status, len(res.IDs))
			for _, r := range res.Requests {
				fmt.Fprintf(out, "  %s %s %s (%d)\n", r.ID, r.Provider, r.Model, r.RequestCountsTotal)
			}
			if res.Status == batches.TriggerFailed {
				return res.Err
			}
			return nil
		}),
	}
}

func newCheckCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "check <batch-id>",
		Short: "Refresh one batch job from its provider",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			req, err := env.Batches.CheckBatchStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d/%d/%d\n", req.ID, req.Status,
				req.RequestCountsCompleted, req.RequestCountsFailed, req.RequestCountsTotal)
			return nil
		}),
	}
}

func newRefreshCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every open batch job",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, _ []string, env *Env) error {
			reqs, err := env.Batches.RefreshOpenBatches(cmd.Context())
			for _, r := range reqs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.ID, r.Status)
			}
			return err
		}),
	}
}

func newProcessCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Store the results of completed batch jobs",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, _ []string, env *Env) error {
			res, err := env.Batches.ProcessBatchResponses(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "processed %d batch(es), %d prompt(s)\n", len(res.Requests), len(res.Prompts))
			for _, c := range res.Conversations {
				fmt.Fprintf(out, "  %s %q +%d message(s)\n", c.ConversationID, c.Title, len(c.Messages))
			}
			return nil
		}),
	}
}

func newDeletePromptCommand(withEnv runWithEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-prompt <custom-id>",
		Short: "Remove a queued prompt",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			if err := env.Batches.DeletePrompt(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

// newAskCommand sends one synchronous request, to check a model card and
// its provider credentials before queueing work for them.
func newAskCommand(withEnv runWithEnv) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a single synchronous prompt to a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			card, ok := env.Catalog.Resolve(model)
			if !ok {
				return fmt.Errorf("unknown model %q", model)
			}
			chat, err := env.Providers.Chat(card.Provider)
			if err != nil {
				return err
			}
			req := models.ChatRequest{
				Model:    card.APIModel,
				Messages: []models.ChatMessage{{Role: models.RoleUser, Text: strings.Join(args, " ")}},
			}
			if card.MaxOutTokens > 0 {
				limit := card.MaxOutTokens
				req.MaxTokens = &limit
			}
			resp, err := chat.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Content)
			fmt.Fprintf(out, "[%s %d+%d tokens]\n", resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return nil
		}),
	}
	cmd.Flags().StringVar(&model, "model", "", "model name or alias")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
