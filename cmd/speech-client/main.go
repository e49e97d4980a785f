package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/prompt"
	"github.com/book-expert/speech-service/internal/retry"
	"github.com/book-expert/speech-service/internal/text"
	"github.com/book-expert/speech-service/internal/xfyun"
)

// Flag descriptions.
const (
	flagTextDesc     = "Text to speak or to hand to the assistant"
	flagFileDesc     = "File whose contents are spoken or handed to the assistant"
	flagOutputDesc   = "Output file path (.pcm, or .wav with --wav)"
	flagConfigDesc   = "Path to a TOML config file (defaults to the central configurator)"
	flagChatDesc     = "Ask the assistant instead of synthesizing speech"
	flagTaskDesc     = "Assistant task: summarize, translate, explain, ask or custom"
	flagQuestionDesc = "Question for the ask task"
	flagVoiceDesc    = "Voice name overriding the configured one"
	flagWAVDesc      = "Wrap the PCM output in a WAV container"
)

// Flag names.
const (
	flagText     = "text"
	flagFile     = "file"
	flagOutput   = "output"
	flagConfig   = "config"
	flagChat     = "chat"
	flagTask     = "task"
	flagQuestion = "question"
	flagVoice    = "voice"
	flagWAV      = "wav"
)

// Error messages.
const (
	errEitherTextOrFile      = "either --text or --file must be provided"
	errCannotSpecifyBoth     = "cannot specify both --text and --file"
	errOutputWithChat        = "--output and --wav only apply to speech synthesis"
	errFailedToLoadConfig    = "failed to load configuration: %w"
	errFailedToInitLogger    = "failed to initialize logger: %w"
	errFailedToReadInput     = "failed to read input file: %w"
	errFailedToCreateClient  = "failed to create xfyun client: %w"
	errFailedToSynthesize    = "failed to synthesize: %w"
	errFailedToAsk           = "failed to ask the assistant: %w"
	errFailedToWriteOutput   = "failed to write output %s: %w"
	errNothingToSpeak        = "nothing to speak after preprocessing"
	errFailedToOpenChatInput = "failed to open chat session: %w"
)

// Log messages.
const (
	logSynthesizing      = "Synthesizing %d chunk(s) with voice %q"
	logGenerated         = "Generated: %s (%s of audio)\n"
	logAsking            = "Asking the assistant (task %s)"
	logInterruptReceived = "Interrupt received, stopping the exchange"
)

// File names.
const (
	logFileName       = "speech-client.log"
	defaultOutputPCM  = "output.pcm"
	defaultOutputWAV  = "output.wav"
	bootstrapLogLabel = "speech-client-bootstrap.log"
)

var (
	errInvalidArguments = errors.New("invalid arguments")
	errEmptyInput       = errors.New(errNothingToSpeak)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	file     string
	output   string
	config   string
	task     string
	question string
	voice    string
	chat     bool
	wav      bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	cfg, appLogger, err := setup(flags.config)
	if err != nil {
		return err
	}

	defer func() { _ = appLogger.Close() }()

	input, err := readInput(flags)
	if err != nil {
		return err
	}

	client, err := xfyun.NewClient(cfg.ClientConfig(), appLogger)
	if err != nil {
		return fmt.Errorf(errFailedToCreateClient, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if flags.chat {
		answer, askErr := ask(ctx, client, cfg.RetryOptions(), flags, input, appLogger)
		if askErr != nil {
			return askErr
		}

		fmt.Println(answer)

		return nil
	}

	outputPath := outputPathFor(flags)
	appLogger.Info("Writing speech to %s", outputPath)

	pcm, err := speak(ctx, client, cfg, core.Voice{Name: flags.voice}, input, appLogger)
	if err != nil {
		return err
	}

	format := audio.FormatFromMIME(cfg.Xfyun.TTS.AudioFormat)

	err = writeOutput(outputPath, pcm, flags.wav, format)
	if err != nil {
		return err
	}

	fmt.Printf(logGenerated, outputPath, format.Duration(len(pcm)))

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(flagSet *flag.FlagSet, args []string) appFlags {
	var flags appFlags

	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.chat, flagChat, false, flagChatDesc)
	flagSet.StringVar(&flags.task, flagTask, "", flagTaskDesc)
	flagSet.StringVar(&flags.question, flagQuestion, "", flagQuestionDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.BoolVar(&flags.wav, flagWAV, false, flagWAVDesc)
	_ = flagSet.Parse(args)

	return flags
}

// validateArguments checks required and conflicting arguments.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return fmt.Errorf("%w: %s", errInvalidArguments, errEitherTextOrFile)
	}

	if flags.text != "" && flags.file != "" {
		return fmt.Errorf("%w: %s", errInvalidArguments, errCannotSpecifyBoth)
	}

	if flags.chat && (flags.output != "" || flags.wav) {
		return fmt.Errorf("%w: %s", errInvalidArguments, errOutputWithChat)
	}

	return nil
}

// setup loads config and initializes the logger.
func setup(configPath string) (*config.Config, *logger.Logger, error) {
	var (
		cfg *config.Config
		err error
	)

	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = loadCentral()
	}

	if err != nil {
		return nil, nil, fmt.Errorf(errFailedToLoadConfig, err)
	}

	appLogger, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFailedToInitLogger, err)
	}

	return cfg, appLogger, nil
}

func loadCentral() (*config.Config, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogLabel)
	if err != nil {
		return nil, fmt.Errorf(errFailedToInitLogger, err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	return config.Load(bootstrapLog)
}

func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf(errFailedToReadInput, err)
	}

	return string(data), nil
}

func outputPathFor(flags appFlags) string {
	if flags.output != "" {
		return flags.output
	}

	if flags.wav {
		return defaultOutputWAV
	}

	return defaultOutputPCM
}

// speak prepares the text the way the service does and synthesizes it
// chunk by chunk. Cancelling ctx stops the exchange in flight.
func speak(
	ctx context.Context,
	client *xfyun.Client,
	cfg *config.Config,
	voice core.Voice,
	input string,
	appLogger core.Logger,
) ([]byte, error) {
	prepared := text.Truncate(text.NewPreprocessor().PreprocessText(input), cfg.Worker.MaxRunes)

	chunks := text.Split(prepared, cfg.Worker.MaxChunkBytes)
	if len(chunks) == 0 {
		return nil, errEmptyInput
	}

	appLogger.Info(logSynthesizing, len(chunks), voice.Name)

	var pcm []byte

	for _, chunk := range chunks {
		orchestrator := retry.New(client.NewSpeechSession(voice), cfg.RetryOptions(), retry.Hooks[[]byte]{}, appLogger)

		audioChunk, err := runUntilInterrupted(ctx, orchestrator, chunk, appLogger)
		if err != nil {
			return nil, fmt.Errorf(errFailedToSynthesize, err)
		}

		pcm = append(pcm, audioChunk...)
	}

	return pcm, nil
}

// ask builds the prompt for the requested task and returns the answer.
func ask(
	ctx context.Context,
	client *xfyun.Client,
	retryOptions retry.Options,
	flags appFlags,
	input string,
	appLogger core.Logger,
) (string, error) {
	task, err := prompt.ParseTask(flags.task)
	if err != nil {
		return "", fmt.Errorf(errFailedToAsk, err)
	}

	query, err := prompt.Build(task, text.NewPreprocessor().PreprocessText(input), flags.question)
	if err != nil {
		return "", fmt.Errorf(errFailedToAsk, err)
	}

	session, err := client.NewTranscriptSession()
	if err != nil {
		return "", fmt.Errorf(errFailedToOpenChatInput, err)
	}

	appLogger.Info(logAsking, task)

	orchestrator := retry.New(session, retryOptions, retry.Hooks[xfyun.Completion]{}, appLogger)

	completion, err := runUntilInterrupted(ctx, orchestrator, query, appLogger)
	if err != nil {
		return "", fmt.Errorf(errFailedToAsk, err)
	}

	return completion.Text, nil
}

// runUntilInterrupted runs the orchestrator and stops it once ctx ends, so
// an interrupt never leaves a retry pending.
func runUntilInterrupted[T any](
	ctx context.Context,
	orchestrator *retry.Orchestrator[T],
	input string,
	appLogger core.Logger,
) (T, error) {
	unregister := context.AfterFunc(ctx, func() {
		appLogger.Warn(logInterruptReceived)
		orchestrator.Stop()
	})
	defer unregister()

	return orchestrator.Run(context.WithoutCancel(ctx), input)
}

// writeOutput writes raw PCM, or a WAV file when asWAV is set.
func writeOutput(path string, pcm []byte, asWAV bool, format audio.Format) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, path, err)
	}

	if !asWAV {
		err = os.WriteFile(path, pcm, 0o600)
		if err != nil {
			return fmt.Errorf(errFailedToWriteOutput, path, err)
		}

		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, path, err)
	}

	err = audio.WriteWAV(file, pcm, format)
	closeErr := file.Close()

	if err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, path, err)
	}

	return nil
}
