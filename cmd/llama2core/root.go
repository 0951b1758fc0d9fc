package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/llama2core/llama2core"
	"github.com/llama2core/llama2core/weights"
)

var (
	configPath     string
	checkpointPath string
	tokenizerPath  string
	modelAccess    string
	cacheLimit     int64
	threads        int
	maxSessions    int
	chatMode       bool
	logLevel       string

	systemPrompt string
	prompt       string
	limit        int
	temperature  float64
	topP         float64
	rngSeed      uint64
)

var rootCmd = &cobra.Command{
	Use:   "llama2core",
	Short: "Run one generation query against a llama2-family checkpoint",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a checkpoint and stream one generated response",
	RunE:  runQuery,
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML config file (overrides other flags when set)")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "path to the .bin checkpoint file")
	runCmd.Flags().StringVar(&tokenizerPath, "tokenizer", "./tokenizer.bin", "path to the tokenizer file")
	runCmd.Flags().StringVar(&modelAccess, "access", "mmap", "weight access mode: mmap, malloc-cache, absolute")
	runCmd.Flags().Int64Var(&cacheLimit, "cache-limit", 0, "byte budget for malloc-cache access")
	runCmd.Flags().IntVar(&threads, "threads", 8, "matmul worker pool size")
	runCmd.Flags().IntVar(&maxSessions, "max-sessions", 1, "maximum concurrent sessions")
	runCmd.Flags().BoolVar(&chatMode, "chat", false, "wrap the prompt in the chat instruction template")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "log level (debug, info, warn, error)")

	runCmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt (chat mode only)")
	runCmd.Flags().StringVar(&prompt, "prompt", "", "user prompt")
	runCmd.Flags().IntVar(&limit, "limit", 0, "maximum tokens to emit (0 = model maximum)")
	runCmd.Flags().Float64Var(&temperature, "temperature", 1.0, "sampling temperature (0 = default 1.0)")
	runCmd.Flags().Float64Var(&topP, "top-p", 0.9, "nucleus sampling mass")
	runCmd.Flags().Uint64Var(&rngSeed, "seed", 0, "sampler RNG seed (0 = time-derived)")

	rootCmd.AddCommand(runCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	log := logrus.StandardLogger()
	log.SetLevel(level)

	var ec llama2.EngineConfig
	var qc llama2.QueryConfig

	if configPath != "" {
		ec, qc, err = llama2.LoadConfig(configPath)
		if err != nil {
			return err
		}
		ec.Logger = log
		qc.IssueCallback = func(_ any, piece string) int {
			fmt.Print(piece)
			return 0
		}
	} else {
		access, err := parseAccessMode(modelAccess)
		if err != nil {
			return err
		}
		ec = llama2.EngineConfig{
			APIVersion:     llama2.APIVersion,
			CheckpointPath: checkpointPath,
			TokenizerPath:  tokenizerPath,
			ModelAccess:    access,
			CacheLimit:     cacheLimit,
			Threads:        threads,
			MaxSessions:    maxSessions,
			Logger:         log,
		}
		if chatMode {
			ec.ModelType = llama2.ModelChat
		}
		qc = llama2.QueryConfig{
			System:      systemPrompt,
			Prompt:      prompt,
			Limit:       limit,
			Temperature: float32(temperature),
			TopP:        float32(topP),
			RNGSeed:     rngSeed,
			IssueCallback: func(_ any, piece string) int {
				fmt.Print(piece)
				return 0
			},
		}
	}

	t, err := llama2.New(ec)
	if err != nil {
		return err
	}
	defer t.Close()

	sess, err := t.NewSession()
	if err != nil {
		return err
	}
	defer sess.Destroy()

	if err := sess.Query(qc); err != nil {
		return err
	}

	if err := t.Scheduler().Run(); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func parseAccessMode(s string) (weights.AccessMode, error) {
	switch s {
	case "mmap":
		return weights.AccessMmap, nil
	case "malloc-cache":
		return weights.AccessPagedCache, nil
	case "absolute":
		return weights.AccessAbsolute, nil
	default:
		return 0, fmt.Errorf("unknown --access %q", s)
	}
}
