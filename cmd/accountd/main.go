// Package main is the CLI entry point for accountd.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/accountd/internal/auth"
	"github.com/eliteGoblin/accountd/internal/config"
	"github.com/eliteGoblin/accountd/internal/domain"
	"github.com/eliteGoblin/accountd/internal/engine"
	"github.com/eliteGoblin/accountd/internal/infra"
	"github.com/eliteGoblin/accountd/internal/rule"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "accountd",
	Short: "Accountability enforcer - blocks distracting apps and websites",
	Long: `accountd enforces your own blocking rules: it terminates blocked
applications on sight and closes browsers while a website rule is
active. Disabling protection requires your PIN; the killswitch is the
emergency way out.

It is a friction mechanism, not a security boundary.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the enforcement daemon in the foreground",
	Long: `Runs the enforcement scheduler until interrupted. App rules are
checked every few seconds; browsers are closed on a slower cadence
while website rules are active.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show protection status",
	RunE:  runStatus,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List block rules",
	RunE:  runRules,
}

var blockAppCmd = &cobra.Command{
	Use:   "block-app <name> <path>",
	Short: "Create an app block rule",
	Long: `Creates a rule blocking the named application. Without flags the
rule is permanent; --timer blocks for N minutes starting now;
--days/--from/--to define a weekly schedule.`,
	Args: cobra.ExactArgs(2),
	RunE: runBlockApp,
}

var blockSiteCmd = &cobra.Command{
	Use:   "block-site <domain>",
	Short: "Create a website block rule",
	Long: `Creates a rule blocking a domain. The domain is normalized
(lowercase, scheme/www/path stripped). While the rule is active every
running browser is closed; a specific tab cannot be targeted.`,
	Args: cobra.ExactArgs(1),
	RunE: runBlockSite,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <rule-id>",
	Short: "Enable or disable a block rule (PIN required to disable while armed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runToggle,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <rule-id>",
	Short: "Delete a block rule (PIN required while armed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnblock,
}

var armCmd = &cobra.Command{
	Use:   "arm",
	Short: "Enable enforcement (no PIN needed)",
	RunE:  runArm,
}

var disarmCmd = &cobra.Command{
	Use:   "disarm",
	Short: "Disable enforcement (PIN required)",
	RunE:  runDisarm,
}

var killswitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Emergency disable of all enforcement, no PIN",
	Long: `Unconditionally disables app and website enforcement. Requires no
PIN and always succeeds; the activation is recorded in the event log
and reported to the webhook if configured.`,
	RunE: runKillswitch,
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Set or change the protection PIN",
	RunE:  runPin,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the audit log, newest first",
	RunE:  runEvents,
}

var webhookCmd = &cobra.Command{
	Use:   "webhook <url>",
	Short: "Configure the notification webhook",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWebhook,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath string

	timerMinutes  int
	scheduleDays  string
	scheduleFrom  string
	scheduleTo    string
	armWebsites   bool
	clearEvents   bool
	testWebhook   bool
	disableHook   bool
	jsonOutput    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default <data-dir>/config.yaml)")

	for _, c := range []*cobra.Command{blockAppCmd, blockSiteCmd} {
		c.Flags().IntVar(&timerMinutes, "timer", 0, "Block for N minutes starting now")
		c.Flags().StringVar(&scheduleDays, "days", "", "Weekly schedule days, 0=Sunday (e.g. 1,2,3,4,5)")
		c.Flags().StringVar(&scheduleFrom, "from", "", "Schedule start time (e.g. 9:00)")
		c.Flags().StringVar(&scheduleTo, "to", "", "Schedule end time (e.g. 17:00)")
	}
	armCmd.Flags().BoolVar(&armWebsites, "websites", false, "Also arm website enforcement")
	disarmCmd.Flags().BoolVar(&armWebsites, "websites", false, "Only disarm website enforcement")
	eventsCmd.Flags().BoolVar(&clearEvents, "clear", false, "Clear the audit log")
	webhookCmd.Flags().BoolVar(&testWebhook, "test", false, "Send a test notification")
	webhookCmd.Flags().BoolVar(&disableHook, "disable", false, "Disable webhook notifications")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(blockAppCmd)
	rootCmd.AddCommand(blockSiteCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(armCmd)
	rootCmd.AddCommand(disarmCmd)
	rootCmd.AddCommand(killswitchCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(versionCmd)
}

// components bundles everything a command needs.
type components struct {
	cfg    config.Config
	store  *infra.EncryptedStore
	eng    *engine.Engine
	logger *zap.Logger
}

func (c *components) close() {
	_ = c.store.Close()
	_ = c.logger.Sync()
}

func buildComponents(daemonMode bool) (*components, error) {
	cfg := config.Default()
	path := configPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if daemonMode {
		logger = createDaemonLogger(cfg.LogPath)
	} else {
		logger, _ = zap.NewDevelopment()
	}

	keys := infra.NewFileKeyProvider(cfg.DataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(cfg.DataDir, key, cfg.EventLimit)
	if err != nil {
		return nil, err
	}

	clock := domain.Clock(time.Now)
	hasher := infra.NewPinHasher()
	gate := auth.NewGate(store, hasher, clock, cfg.SessionTTL(), logger)
	recorder := engine.NewRecorder(store, clock, logger)
	cooldowns := engine.NewCooldownTracker(cfg.Cooldown(), clock)
	notifier := infra.NewDynamicWebhookNotifier(func() string {
		settings, err := store.Settings()
		if err != nil {
			return ""
		}
		return settings.WebhookURL
	})

	eng, err := engine.New(store, gate, recorder, notifier, cooldowns, clock, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &components{cfg: cfg, store: store, eng: eng, logger: logger}, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(true)
	if err != nil {
		return err
	}
	defer c.close()

	inspector := infra.NewProcessInspector()
	scheduler := engine.NewScheduler(engine.SchedulerConfig{
		AppInterval:     c.cfg.AppTick(),
		WebsiteInterval: c.cfg.WebsiteTick(),
		WebsiteGrace:    c.cfg.WebsiteGrace(),
	}, c.eng, inspector, time.Now, c.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		c.logger.Info("received shutdown signal")
		cancel()
	}()

	state := c.eng.State()
	fmt.Println("accountd enforcement daemon running")
	fmt.Printf("  armed: %v, websites armed: %v\n", state.Armed, state.WebsiteArmed)
	fmt.Printf("  log: %s\n", c.cfg.LogPath)

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	settings := c.eng.SettingsSnapshot()
	fmt.Println("\n=== accountd Status ===")
	if settings.Armed {
		fmt.Println("Protection: ARMED")
	} else {
		fmt.Println("Protection: disarmed")
	}
	if settings.WebsiteArmed {
		fmt.Println("Website enforcement: ARMED")
	} else {
		fmt.Println("Website enforcement: disarmed")
	}
	if settings.PINHash == "" {
		fmt.Println("PIN: not set (run 'accountd pin')")
	} else {
		fmt.Println("PIN: configured")
	}
	if settings.WebhookEnabled && settings.WebhookURL != "" {
		fmt.Println("Webhook: enabled")
	} else {
		fmt.Println("Webhook: disabled")
	}
	fmt.Printf("App rules: %d\n", len(c.eng.AppRules()))
	fmt.Printf("Website rules: %d\n", len(c.eng.WebsiteRules()))
	fmt.Println("=======================")
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	now := time.Now()
	fmt.Println("\n=== Block Rules ===")

	appRules := c.eng.AppRules()
	fmt.Printf("\nApps (%d):\n", len(appRules))
	for _, r := range appRules {
		fmt.Printf("  [%s] %s (%s) - %s%s\n",
			r.ID, r.AppName, r.Kind, ruleStateLabel(r.RuleSpec, now), scheduleLabel(r.RuleSpec))
	}

	websiteRules := c.eng.WebsiteRules()
	fmt.Printf("\nWebsites (%d):\n", len(websiteRules))
	for _, r := range websiteRules {
		fmt.Printf("  [%s] %s (%s) - %s%s\n",
			r.ID, r.Domain, r.Kind, ruleStateLabel(r.RuleSpec, now), scheduleLabel(r.RuleSpec))
	}

	fmt.Println("\n===================")
	return nil
}

func ruleStateLabel(spec domain.RuleSpec, now time.Time) string {
	switch {
	case rule.TimerExpired(spec, now):
		return "expired"
	case rule.IsActive(spec, now):
		return "active"
	case !spec.Enabled:
		return "disabled"
	default:
		return "inactive"
	}
}

func scheduleLabel(spec domain.RuleSpec) string {
	switch spec.Kind {
	case domain.KindTimer:
		return fmt.Sprintf(", %d min from %s", spec.DurationMinutes, spec.StartTime.Format("15:04"))
	case domain.KindSchedule:
		return fmt.Sprintf(", %02d:%02d-%02d:%02d", spec.StartHour, spec.StartMinute, spec.EndHour, spec.EndMinute)
	default:
		return ""
	}
}

func buildSpec(now time.Time) (domain.RuleSpec, error) {
	spec := domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true}

	if timerMinutes > 0 {
		spec.Kind = domain.KindTimer
		spec.StartTime = now
		spec.DurationMinutes = timerMinutes
		return spec, nil
	}

	if scheduleDays != "" || scheduleFrom != "" || scheduleTo != "" {
		spec.Kind = domain.KindSchedule
		days, err := parseDays(scheduleDays)
		if err != nil {
			return spec, err
		}
		spec.Days = days
		if spec.StartHour, spec.StartMinute, err = parseClock(scheduleFrom); err != nil {
			return spec, fmt.Errorf("invalid --from: %w", err)
		}
		if spec.EndHour, spec.EndMinute, err = parseClock(scheduleTo); err != nil {
			return spec, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return spec, nil
}

func parseDays(raw string) ([]time.Weekday, error) {
	if raw == "" {
		return nil, fmt.Errorf("--days is required for schedule rules")
	}
	var days []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid day %q", part)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

func parseClock(raw string) (hour, minute int, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	if hour, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, err
	}
	if minute, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, err
	}
	return hour, minute, nil
}

func runBlockApp(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	spec, err := buildSpec(time.Now())
	if err != nil {
		return err
	}
	r, err := c.eng.AddAppRule(args[0], args[1], spec)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s rule %s for %s\n", r.Kind, r.ID, r.AppName)
	return nil
}

func runBlockSite(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	spec, err := buildSpec(time.Now())
	if err != nil {
		return err
	}
	r, err := c.eng.AddWebsiteRule(args[0], spec)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s rule %s for %s\n", r.Kind, r.ID, r.Domain)
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	id := args[0]
	return withChallenge(c, func() error {
		for _, r := range c.eng.AppRules() {
			if r.ID != id {
				continue
			}
			enabled := !r.Enabled
			updated, err := c.eng.UpdateAppRule(id, rule.Update{Enabled: &enabled})
			if err != nil {
				return err
			}
			fmt.Printf("Rule %s (%s) enabled=%v\n", updated.ID, updated.AppName, updated.Enabled)
			return nil
		}
		for _, r := range c.eng.WebsiteRules() {
			if r.ID != id {
				continue
			}
			enabled := !r.Enabled
			updated, err := c.eng.UpdateWebsiteRule(id, rule.Update{Enabled: &enabled})
			if err != nil {
				return err
			}
			fmt.Printf("Rule %s (%s) enabled=%v\n", updated.ID, updated.Domain, updated.Enabled)
			return nil
		}
		return fmt.Errorf("rule %s not found", id)
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	id := args[0]
	return withChallenge(c, func() error {
		err := c.eng.DeleteAppRule(id)
		if err != nil && strings.Contains(err.Error(), "not found") {
			return c.eng.DeleteWebsiteRule(id)
		}
		return err
	})
}

func runArm(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	if armWebsites {
		if err := c.eng.ArmWebsites(); err != nil {
			return err
		}
	}
	if err := c.eng.Arm(); err != nil {
		return err
	}
	fmt.Println("Protection armed.")
	return nil
}

func runDisarm(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	err = withChallenge(c, func() error {
		if armWebsites {
			return c.eng.DisarmWebsites()
		}
		return c.eng.Disarm()
	})
	if err != nil {
		return err
	}
	fmt.Println("Protection disarmed.")
	return nil
}

func runKillswitch(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	c.eng.Killswitch()
	fmt.Println("Killswitch activated. All enforcement disabled.")
	return nil
}

func runPin(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	return withChallenge(c, func() error {
		pin, err := promptLine("New PIN: ")
		if err != nil {
			return err
		}
		if err := c.eng.Gate().SetPIN(pin); err != nil {
			return err
		}
		fmt.Println("PIN updated.")
		return nil
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	if clearEvents {
		if err := c.eng.Recorder().Clear(); err != nil {
			return err
		}
		fmt.Println("Event log cleared.")
		return nil
	}

	events, err := c.eng.Recorder().List()
	if err != nil {
		return err
	}
	fmt.Printf("\n=== Events (%d) ===\n", len(events))
	for _, e := range events {
		fmt.Printf("%s  %-10s  %s: %s\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.Target, e.Message)
	}
	fmt.Println("===================")
	return nil
}

func runWebhook(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()

	if disableHook {
		settings := c.eng.SettingsSnapshot()
		if err := c.eng.SetWebhook(settings.WebhookURL, false); err != nil {
			return err
		}
		fmt.Println("Webhook disabled.")
		return nil
	}

	if len(args) == 1 {
		if err := c.eng.SetWebhook(args[0], true); err != nil {
			return err
		}
		fmt.Println("Webhook configured.")
	}

	if testWebhook {
		notifier := infra.NewWebhookNotifier(c.eng.SettingsSnapshot().WebhookURL)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Send(ctx, "accountd test notification"); err != nil {
			return fmt.Errorf("webhook test failed: %w", err)
		}
		fmt.Println("Test notification sent.")
	}
	return nil
}

// withChallenge runs a gated action, prompting for the PIN when the
// gate demands a challenge. Wrong PINs are retried, never fatal.
func withChallenge(c *components, action func() error) error {
	const maxAttempts = 3

	err := action()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var authErr *domain.AuthorizationError
		if !errors.As(err, &authErr) {
			return err
		}

		pin, promptErr := promptLine("PIN: ")
		if promptErr != nil {
			return promptErr
		}
		ok, verifyErr := c.eng.Gate().Verify(pin)
		if verifyErr != nil {
			return verifyErr
		}
		if !ok {
			fmt.Println("Wrong PIN, try again.")
			continue
		}
		err = action()
	}
	return err
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func createDaemonLogger(logPath string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("accountd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
