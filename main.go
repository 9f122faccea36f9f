package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ajkula/ravenlog/cmd/capture"
	"github.com/ajkula/ravenlog/cmd/fit"
	"github.com/ajkula/ravenlog/cmd/report"
	"github.com/ajkula/ravenlog/cmd/score"
	"github.com/ajkula/ravenlog/cmd/watch"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/reporting"
)

var (
	// Version information
	Version   = reporting.Version
	BuildTime = "development"
	GitCommit = "unknown"

	// Global flags
	configFile string
	verbose    bool
	quiet      bool
	noColor    bool
	noBanner   bool
)

// ASCII Art Banner
const banner = `
██████╗  █████╗ ██╗   ██╗███████╗███╗   ██╗██╗      ██████╗  ██████╗
██╔══██╗██╔══██╗██║   ██║██╔════╝████╗  ██║██║     ██╔═══██╗██╔════╝
██████╔╝███████║██║   ██║█████╗  ██╔██╗ ██║██║     ██║   ██║██║  ███╗
██╔══██╗██╔══██║╚██╗ ██╔╝██╔══╝  ██║╚██╗██║██║     ██║   ██║██║   ██║
██║  ██║██║  ██║ ╚████╔╝ ███████╗██║ ╚████║███████╗╚██████╔╝╚██████╔╝
╚═╝  ╚═╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═══╝╚══════╝ ╚═════╝  ╚═════╝

            HTTP Access Log Anomaly Detection
                 Version %s | Build %s
`

// Colors for terminal output
const (
	ColorReset = "\033[0m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
	ColorBold  = "\033[1m"
)

// printBanner displays the RavenLog banner
func printBanner() {
	if noBanner || quiet {
		return
	}

	color := ""
	if !noColor {
		color = ColorCyan + ColorBold
	}

	fmt.Printf(color+banner+ColorReset+"\n\n", Version, BuildTime)
}

// printError prints error messages with proper formatting
func printError(err error) {
	color := ""
	if !noColor {
		color = ColorRed + ColorBold
	}
	fmt.Fprintf(os.Stderr, color+"[ERROR] %v"+ColorReset+"\n", err)
}

// printSuccess prints success messages with proper formatting
func printSuccess(message string) {
	color := ""
	if !noColor {
		color = ColorGreen + ColorBold
	}
	fmt.Printf(color+"[SUCCESS] %s"+ColorReset+"\n", message)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ravenlog",
	Short: "HTTP access log anomaly detection",
	Long: `RavenLog learns what normal requests to a web server look like from its
access log and flags the requests that do not fit.

Every request is rated on four signals:
• URL length more than two standard deviations above the training mean
• Character distribution of the URL (chi-square goodness of fit)
• Query parameter key set never seen in training
• Query parameter key order never seen in training

Score vectors can be grouped with k-means, stored in SQLite and exported
as JSON, CSV or plain text reports.`,

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Handle config initialization first
		if initConfig, _ := cmd.Flags().GetBool("init-config"); initConfig {
			return createDefaultConfig()
		}

		// Print banner for all commands except help
		if cmd.Name() != "help" && cmd.Name() != "completion" && cmd.Name() != "version" {
			printBanner()
		}
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		if initConfig, _ := cmd.Flags().GetBool("init-config"); initConfig {
			return nil
		}
		// Default behavior: show help
		return cmd.Help()
	},
}

// fitCmd represents the fit command
var fitCmd = &cobra.Command{
	Use:   "fit LOG [LOG...]",
	Short: "Learn a request profile from normal traffic",
	Long: `Parse one or more access logs of normal traffic and learn a profile:
the URL length mean and deviation, the idealized character distribution
and the query parameter key sets and orders that were seen.

Files are read in order as one stream; gzip files are decompressed.
The profile is written to the profile path and, when the store is
enabled, saved in the SQLite store.

Example usage:
  ravenlog fit access.log access.log.1.gz
  ravenlog fit --format combined --profile normal.json access.log`,

	Args: cobra.MinimumNArgs(1),
	RunE: fit.Execute,
}

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score LOG [LOG...]",
	Short: "Score requests against a fitted profile",
	Long: `Score every request of the given logs against a fitted profile and
report the anomalous ones.

The profile is taken from --profile-id in the store, else the profile
path, else the latest profile in the store.

Example usage:
  ravenlog score access.log
  ravenlog score --cluster --k 3 --pvalue-threshold 0.01 access.log
  ravenlog score --report json,csv --output ./reports access.log`,

	Args: cobra.MinimumNArgs(1),
	RunE: score.Execute,
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch LOG",
	Short: "Follow a live access log and score new requests",
	Long: `Follow an access log as it grows, score new requests in batches and
print the anomalous ones as they arrive. Log rotation and truncation
are followed.

Example usage:
  ravenlog watch /var/log/nginx/access.log
  ravenlog watch --from-start --save --duration 1h access.log`,

	Args: cobra.ExactArgs(1),
	RunE: watch.Execute,
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports from stored scoring runs",
	Long: `List the scoring runs kept in the store, or regenerate the reports of
one of them. A saved JSON report can be re-rendered in other formats.

Supported formats:
• JSON: full run with every score row
• CSV: one row per request with its four signals
• TXT: summary and flagged requests for command-line review

Example usage:
  ravenlog report --list
  ravenlog report --run 6f1c... --format txt
  ravenlog report --input ./reports --format csv`,

	RunE: report.Execute,
}

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture FILE",
	Short: "Extract TCP packet records from a pcap or pcapng file",
	Long: `Read an offline packet capture and write one record per IPv4/TCP packet
with its ip_* and tcp_* header fields, as CSV or JSON.

Example usage:
  ravenlog capture --no-banner trace.pcapng > packets.csv
  ravenlog capture --encoding json --out packets.json trace.pcap`,

	Args: cobra.ExactArgs(1),
	RunE: capture.Execute,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display detailed version and build information for RavenLog.`,

	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RavenLog Access Log Anomaly Detector\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Built with %s\n", runtime.Version())
	},
}

// setupCommands configures all CLI commands and flags
func setupCommands() {
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(versionCmd)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default is ./ravenlog.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output and debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"quiet output (errors and warnings only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false,
		"disable banner display")
	rootCmd.PersistentFlags().Bool("init-config", false,
		"create default configuration file (ravenlog.yaml)")

	// Parsing flags shared by the commands that read logs
	for _, cmd := range []*cobra.Command{fitCmd, scoreCmd, watchCmd} {
		cmd.Flags().StringP("format", "f", "",
			"access log format (clf, combined)")
		cmd.Flags().String("policy", "",
			"unparsable line policy (skip, fail-fast)")
		cmd.Flags().StringP("profile", "p", "",
			"profile JSON file")
		cmd.Flags().String("db", "",
			"SQLite store path")
		cmd.Flags().String("metrics-file", "",
			"write Prometheus textfile metrics to this path")
	}

	// Scoring flags
	for _, cmd := range []*cobra.Command{scoreCmd, watchCmd} {
		cmd.Flags().String("profile-id", "",
			"use this stored profile instead of the profile file")
		cmd.Flags().Int("workers", 0,
			"scoring workers (0 = one per CPU)")
		cmd.Flags().Float64("pvalue-threshold", 0,
			"flag requests whose character distribution p-value is below this (0 = off)")
	}
	scoreCmd.Flags().Bool("cluster", false,
		"group score vectors with k-means")
	scoreCmd.Flags().Int("k", 2,
		"number of k-means clusters")
	scoreCmd.Flags().Int64("seed", 42,
		"k-means seed")
	scoreCmd.Flags().StringP("output", "o", "",
		"output directory for reports")
	scoreCmd.Flags().StringSlice("report", nil,
		"report formats (json,csv,txt); empty for none")

	// Watch command specific flags
	watchCmd.Flags().Bool("from-start", false,
		"score the existing content before following")
	watchCmd.Flags().Bool("save", false,
		"store every scored batch as a run")
	watchCmd.Flags().DurationP("duration", "d", 0,
		"stop after this long (0 = until interrupted)")

	// Report command specific flags
	reportCmd.Flags().StringP("input", "i", "",
		"JSON report file or directory to re-render")
	reportCmd.Flags().StringP("run", "r", "",
		"stored run ID (default is the latest run)")
	reportCmd.Flags().BoolP("list", "l", false,
		"list stored runs")
	reportCmd.Flags().Int("limit", 20,
		"number of runs to list")
	reportCmd.Flags().StringP("output", "o", "",
		"output directory for reports")
	reportCmd.Flags().StringSliceP("format", "f", nil,
		"report formats (json,csv,txt)")
	reportCmd.Flags().String("db", "",
		"SQLite store path")

	// Capture command specific flags
	captureCmd.Flags().String("capture-format", "",
		"capture file format (pcap, pcapng; default from extension or config)")
	captureCmd.Flags().StringP("encoding", "e", "csv",
		"output encoding (csv, json)")
	captureCmd.Flags().StringP("out", "o", "",
		"output file (default is stdout)")
	captureCmd.Flags().String("metrics-file", "",
		"write Prometheus textfile metrics to this path")
}

// main is the entry point for RavenLog
func main() {
	setupCommands()

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// createDefaultConfig writes the default configuration file
func createDefaultConfig() error {
	const defaultConfigContent = `# RavenLog Configuration File
# HTTP Access Log Anomaly Detection

# Detector Configuration - parsing and scoring
detector:
  log_format: "CLF"          # Options: CLF, Combined
  parse_policy: "skip"       # Options: skip, fail-fast
  workers: 0                 # Scoring workers (0 = one per CPU)
  cancel_check_interval: 1024
  pvalue_threshold: 0        # Flag char distribution p-values below this (0 = off)
  cache_size: 4096           # Distinct URLs memoised per scorer (0 = no cache)
  progress_interval: 100000  # Log progress every N lines (0 = never)

# K-means over score vectors
cluster:
  enable: false
  k: 2
  seed: 42
  max_iterations: 100

# Learned profile
profile:
  path: "./profile.json"

# SQLite store for profiles and scoring runs
store:
  enable: true
  path: "./ravenlog.db"

# Offline packet capture extraction
capture:
  format: "pcapng"           # Options: pcap, pcapng
  transport: "TCP"
  progress_interval: 1000

# Reporting Configuration
reports:
  formats: ["json", "csv", "txt"]  # Available: json, csv, txt
  output_dir: "./reports"
  only_anomalies: true             # Text reports list flagged requests only

# Output and UI Configuration
output:
  verbosity: "normal"
  colors: true
  show_banner: true
  watch:
    batch_size: 256
    flush_interval: 2s

# Logging Configuration
logging:
  level: "info"              # Options: debug, info, warn, error
  format: "text"             # Options: text, json
  output_file: ""            # Empty = stderr
  rotation: false
  max_size: 10               # MB
  max_backups: 3
  max_age: 30                # days
  compress: false

# Prometheus textfile metrics
metrics:
  enable: false
  textfile: "./ravenlog.prom"
`

	filename := configFile
	if filename == "" {
		filename = config.DefaultConfigFilename
	}
	if err := os.WriteFile(filename, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	printSuccess(fmt.Sprintf("Default configuration file created: %s", filename))
	fmt.Printf("Run 'ravenlog fit access.log' to learn a profile\n")

	return nil
}
