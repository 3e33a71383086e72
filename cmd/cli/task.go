package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nlpgrid/nlp-service/internal/cache"
	"github.com/nlpgrid/nlp-service/internal/database"
	"github.com/nlpgrid/nlp-service/internal/inference"
	"github.com/nlpgrid/nlp-service/internal/nlp"
	"github.com/nlpgrid/nlp-service/internal/orchestrator"
	"github.com/nlpgrid/nlp-service/internal/rag"
)

var (
	submitType   string
	submitParams string
)

// taskCmd groups task operations
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect NLP tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit a task and wait for its terminal state",
	Example: `  nlp-service task submit "great product" --type classification --params '{"categories":["positive","negative"]}'
  nlp-service task submit "long article text" --type summarization --params '{"max_length":80}'`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskSubmit,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := database.NewTaskStore(database.Pool()).Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch := buildOrchestrator()
		task, err := orch.Cancel(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCancelCmd)

	taskSubmitCmd.Flags().StringVar(&submitType, "type", "", "Task type (required)")
	taskSubmitCmd.Flags().StringVar(&submitParams, "params", "", "Task parameters as JSON")
	taskSubmitCmd.MarkFlagRequired("type")
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	kind, err := nlp.ParseKind(submitType)
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if submitParams != "" {
		raw = json.RawMessage(submitParams)
	}
	params, err := nlp.DecodeParams(kind, raw)
	if err != nil {
		return err
	}

	orch := buildOrchestrator()
	task, err := orch.Submit(context.Background(), orchestrator.SubmitInput{
		Kind:   kind,
		Text:   args[0],
		Params: params,
	})
	if err != nil {
		return err
	}
	return printJSON(task)
}

// buildOrchestrator wires a local orchestrator over the shared stores.
// No webhook dispatch: CLI submissions are interactive.
func buildOrchestrator() *orchestrator.Orchestrator {
	resultCache := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.Cache.TTL,
		Enabled:  cfg.Cache.Enabled,
	})

	inferenceClient := inference.New(inference.Config{
		BaseURL:           cfg.Inference.BaseURL,
		APIKey:            cfg.Inference.APIKey,
		Timeout:           cfg.Inference.Timeout,
		MaxRetries:        cfg.Inference.MaxRetries,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
	})

	retriever := rag.New(rag.Config{
		BaseURL:        cfg.RAG.BaseURL,
		APIKey:         cfg.RAG.APIKey,
		Timeout:        cfg.RAG.Timeout,
		TopK:           cfg.RAG.TopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		Enabled:        cfg.RAG.Enabled,
	})

	return orchestrator.New(database.NewTaskStore(database.Pool()), resultCache, inferenceClient, retriever, nil)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect batch jobs",
}

var batchGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := database.NewJobStore(database.Pool()).Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var batchTasksCmd = &cobra.Command{
	Use:   "tasks <job-id>",
	Short: "List the tasks of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := database.NewTaskStore(database.Pool()).ListByJob(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d tasks\n", len(tasks))
		return printJSON(tasks)
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchGetCmd)
	batchCmd.AddCommand(batchTasksCmd)
}
