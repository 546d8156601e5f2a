package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/gosom/gmaps-extractor/checkpoint"
	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/resolver"
	"github.com/gosom/gmaps-extractor/s3uploader"
	"github.com/gosom/gmaps-extractor/tlmt"
	"github.com/gosom/gmaps-extractor/tlmt/gonoop"
	"github.com/gosom/gmaps-extractor/tlmt/goposthog"
	"github.com/gosom/gmaps-extractor/web"
)

const (
	RunModeWeb = iota + 1
	RunModeWorker
	RunModeFile
	RunModeInstallPlaywright
)

const envPrefix = "EXTRACTOR"

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

// Env holds the tunables read from EXTRACTOR_* environment variables.
type Env struct {
	Job         extractor.Config    `envconfig:"JOB"`
	Pipeline    gmaps.Config        `envconfig:"PIPELINE"`
	Browser     gmaps.BrowserConfig `envconfig:"BROWSER"`
	Resolver    resolver.Config     `envconfig:"RESOLVER"`
	Checkpoint  checkpoint.Config   `envconfig:"CHECKPOINT"`
	Diagnostics diagnostics.Config  `envconfig:"DIAGNOSTICS"`
	S3          s3uploader.Config   `envconfig:"S3"`
	HTTP        web.Config          `envconfig:"HTTP"`
}

type Config struct {
	RunMode          int
	Debug            bool
	DataFolder       string
	Dsn              string
	Addr             string
	Queue            bool
	MonthlyQuota     int
	DisableTelemetry bool

	// file mode
	Keyword            string
	ResultsFile        string
	Format             exporter.Format
	Columns            []string
	MaxResults         int
	LangCode           string
	SkipDuplicates     bool
	SkipWithoutPhone   bool
	SkipWithoutWebsite bool
	Email              bool

	Env Env
}

func ParseConfig() (*Config, error) {
	if os.Getenv("PLAYWRIGHT_INSTALL_ONLY") == "1" {
		return &Config{RunMode: RunModeInstallPlaywright}, nil
	}

	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Config{}

	var (
		mode    string
		format  string
		columns string
	)

	fs.StringVar(&mode, "mode", "", "run mode: web, worker, file or install-playwright [default: file when -keyword is set, web otherwise]")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging and a headful browser")
	fs.StringVar(&cfg.DataFolder, "data-folder", "webdata", "data folder for the sqlite job store, checkpoints and diagnostics")
	fs.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string; the sqlite store in -data-folder is used when empty")
	fs.StringVar(&cfg.Addr, "addr", "", "address to listen on for the web server [default: EXTRACTOR_HTTP_ADDR or :8080]")
	fs.BoolVar(&cfg.Queue, "queue", false, "run jobs on redis backed workers instead of in the web process (requires -dsn)")
	fs.IntVar(&cfg.MonthlyQuota, "monthly-quota", 0, "jobs per user and calendar month, 0 for unlimited")
	fs.BoolVar(&cfg.DisableTelemetry, "disable-telemetry", false, "disable anonymous usage telemetry")

	fs.StringVar(&cfg.Keyword, "keyword", "", "search keyword for a single extraction in file mode")
	fs.StringVar(&cfg.ResultsFile, "results", "stdout", "path to the results file in file mode")
	fs.StringVar(&format, "format", "csv", "results format in file mode: csv, xlsx or json")
	fs.StringVar(&columns, "columns", "", "comma separated columns to export [default: all]")
	fs.IntVar(&cfg.MaxResults, "max-results", 20, "maximum number of kept results (1-100)")
	fs.StringVar(&cfg.LangCode, "lang", "en", "language code for Google (e.g., 'de' for German)")
	fs.BoolVar(&cfg.SkipDuplicates, "skip-duplicates", false, "drop places whose name was already kept")
	fs.BoolVar(&cfg.SkipWithoutPhone, "skip-without-phone", false, "drop places without a phone number")
	fs.BoolVar(&cfg.SkipWithoutWebsite, "skip-without-website", false, "drop places without a website")
	fs.BoolVar(&cfg.Email, "email", false, "extract emails from websites")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := envconfig.Process(envPrefix, &cfg.Env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.Addr != "" {
		cfg.Env.HTTP.Addr = cfg.Addr
	}

	if os.Getenv("DISABLE_TELEMETRY") == "1" {
		cfg.DisableTelemetry = true
	}

	telemetryDisabled.Store(cfg.DisableTelemetry)

	f, err := exporter.ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.Format = f

	for _, c := range strings.Split(columns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.Columns = append(cfg.Columns, c)
		}
	}

	if cfg.MonthlyQuota < 0 {
		return nil, fmt.Errorf("%w: monthly quota must not be negative", ErrInvalidConfig)
	}

	switch mode {
	case "web":
		cfg.RunMode = RunModeWeb
	case "worker":
		cfg.RunMode = RunModeWorker
	case "file":
		cfg.RunMode = RunModeFile
	case "install-playwright":
		cfg.RunMode = RunModeInstallPlaywright
	case "":
		if cfg.Keyword != "" {
			cfg.RunMode = RunModeFile
		} else {
			cfg.RunMode = RunModeWeb
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRunMode, mode)
	}

	if cfg.RunMode == RunModeFile && strings.TrimSpace(cfg.Keyword) == "" {
		return nil, fmt.Errorf("%w: -keyword is required in file mode", ErrInvalidConfig)
	}

	if (cfg.Queue || cfg.RunMode == RunModeWorker) && cfg.Dsn == "" {
		return nil, fmt.Errorf("%w: queue mode needs a shared postgres store (-dsn)", ErrInvalidConfig)
	}

	if cfg.Debug {
		cfg.Env.Browser.Headless = false
	}

	return &cfg, nil
}

// JobParams returns the job options of file mode.
func (c *Config) JobParams() models.JobParams {
	return models.JobParams{
		Keyword:            c.Keyword,
		Lang:               c.LangCode,
		MaxResults:         c.MaxResults,
		SkipDuplicates:     c.SkipDuplicates,
		SkipWithoutPhone:   c.SkipWithoutPhone,
		SkipWithoutWebsite: c.SkipWithoutWebsite,
		Email:              c.Email,
	}
}

// NewLogger builds the process logger. Logs go to stderr so that file mode
// can write results to stdout.
func NewLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.DisableStacktrace = true

	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zcfg.Development = true
	}

	return zcfg.Build()
}

var (
	telemetryOnce     sync.Once
	telemetry         tlmt.Telemetry
	telemetryDisabled atomic.Bool
)

const defaultTelemetryHost = "https://eu.i.posthog.com"

// Telemetry returns the process wide telemetry client. It reports to the
// posthog project named by TELEMETRY_KEY and is a no-op without one.
func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		disabled := telemetryDisabled.Load() || os.Getenv("DISABLE_TELEMETRY") == "1"
		telemetry = newTelemetry(disabled, os.Getenv("TELEMETRY_KEY"), os.Getenv("TELEMETRY_HOST"))
	})

	return telemetry
}

func newTelemetry(disabled bool, key, host string) tlmt.Telemetry {
	if disabled || key == "" {
		return gonoop.New()
	}

	if host == "" {
		host = defaultTelemetryHost
	}

	val, err := goposthog.New(key, host)
	if err != nil || val == nil {
		return gonoop.New()
	}

	return val
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		paddingRight := max(contentWidth-runewidth.StringWidth(line), 0)

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner(cfg *Config) {
	messages := []string{
		"🌍 Google Maps Extractor",
		"📍 Checkpointed place extraction with resumable jobs",
	}

	if cfg != nil && cfg.Debug {
		messages = append(messages, "🐞 Debug mode: verbose logs and a visible browser window")
	}

	fmt.Fprintln(os.Stderr, banner(messages, 0))
}
