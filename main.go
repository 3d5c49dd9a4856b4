package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"personafeed/pkg/config"
	"personafeed/pkg/engine"
	"personafeed/pkg/holiday"
	"personafeed/pkg/metrics"
	"personafeed/pkg/notify"
	"personafeed/pkg/persona"
)

var (
	configPath string
	accountID  string
	seed       string
	handle     string
	maxPosts   int
)

var rootCmd = &cobra.Command{
	Use:          "personafeed",
	Short:        "Generates posts for AI personas on a schedule",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			metrics.StartServer(a.cfg.Metrics.Addr)
			go sweepLimiter(ctx, a)

			log.Printf("Scheduler is now running every %s. Press CTRL-C to exit.", a.cfg.Interval())
			return a.scheduler.Run(ctx, a.cfg.Interval(), a.cfg.Cooldown(), maxPostsOr(a.cfg.Scheduler.MaxPostsPerRun))
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a single batch and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.scheduler.RunBatch(ctx, a.cfg.Cooldown(), maxPostsOr(a.cfg.Scheduler.MaxPostsPerRun))
			if report != nil {
				fmt.Fprintln(cmd.OutOrStdout(), notify.FormatReport(report))
			}
			return err
		})
	},
}

var postCmd = &cobra.Command{
	Use:   "post <persona-id>",
	Short: "Generate one post for a persona immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			out, err := a.engine.GenerateNow(ctx, accountID, args[0])
			if err != nil {
				if errors.Is(err, engine.ErrRateLimited) {
					return fmt.Errorf("slow down: %w", err)
				}
				return err
			}
			w := cmd.OutOrStdout()
			if out.Status == engine.StatusSkipped {
				fmt.Fprintf(w, "skipped: %s\n", out.Reason)
				return nil
			}
			fmt.Fprintf(w, "posted %s (%s, cost %d)\n%s\n", out.Post.ID, out.Mode, out.Cost, out.Post.Content)
			if out.Post.Image != "" {
				fmt.Fprintln(w, out.Post.Image)
			}
			return nil
		})
	},
}

var createPersonaCmd = &cobra.Command{
	Use:   "create-persona <name>",
	Short: "Generate a new persona profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.creator.Create(ctx, persona.Request{
				AccountID: accountID,
				Name:      strings.Join(args, " "),
				Handle:    handle,
				Seed:      seed,
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintln(w, "skipped: insufficient balance")
				return nil
			}
			p := res.Persona
			fmt.Fprintf(w, "created %s %s (%s, %s) cost %d\n", p.ID, p.Handle, p.Job, p.Location, res.Cost)
			return nil
		})
	},
}

var deletePersonaCmd = &cobra.Command{
	Use:   "delete-persona <persona-id>",
	Short: "Delete a persona, its posts and its stored media",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			p, err := a.store.GetPersona(ctx, args[0])
			if err != nil {
				return err
			}
			if accountID != "" && p.OwnerID != accountID {
				return engine.ErrNotOwner
			}
			n, err := a.creator.Delete(ctx, p.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d stored objects removed)\n", p.Name, n)
			return nil
		})
	},
}

var holidayCmd = &cobra.Command{
	Use:   "holiday [YYYY-MM-DD]",
	Short: "Show the holiday context for a date",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now()
		if len(args) == 1 {
			var err error
			day, err = time.Parse("2006-01-02", args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}
		}
		printHoliday(cmd.OutOrStdout(), holiday.NewProvider(holiday.Calendar, nil), day)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML config file")

	for _, cmd := range []*cobra.Command{postCmd, createPersonaCmd, deletePersonaCmd} {
		cmd.Flags().StringVar(&accountID, "account", "", "account the action is performed for")
	}
	postCmd.MarkFlagRequired("account")
	createPersonaCmd.MarkFlagRequired("account")
	createPersonaCmd.Flags().StringVar(&seed, "seed", "", "free text steering the generated profile")
	createPersonaCmd.Flags().StringVar(&handle, "handle", "", "handle to use instead of the derived one")

	for _, cmd := range []*cobra.Command{runCmd, batchCmd} {
		cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "posts per batch (defaults to the config value)")
	}

	rootCmd.AddCommand(runCmd, batchCmd, postCmd, createPersonaCmd, deletePersonaCmd, holidayCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads config, wires the components and runs fn with them.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(ctx, a)
	if errors.Is(err, context.Canceled) {
		log.Println("Shutting down...")
		return nil
	}
	return err
}

func maxPostsOr(fallback int) int {
	if maxPosts > 0 {
		return maxPosts
	}
	return fallback
}

func sweepLimiter(ctx context.Context, a *app) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(); n > 0 {
				log.Printf("[RateLimit] Evicted %d idle account(s)", n)
			}
		}
	}
}

func printHoliday(w io.Writer, p *holiday.Provider, day time.Time) {
	hc := p.Lookup(day)
	fmt.Fprintf(w, "%s: %s (%s", day.Format("2006-01-02"), hc.Holiday.Name, hc.Tier)
	switch {
	case hc.Offset > 0:
		fmt.Fprintf(w, ", in %d days", hc.Offset)
	case hc.Offset < 0:
		fmt.Fprintf(w, ", %d days ago", -hc.Offset)
	}
	fmt.Fprintln(w, ")")
	if hc.Tier == holiday.TierNearby {
		for _, h := range p.Candidates(day) {
			fmt.Fprintf(w, "  candidate: %s\n", h.Name)
		}
	}
}
