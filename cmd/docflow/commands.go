package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/your-org/docflow/internal/domain"
	"github.com/your-org/docflow/internal/extraction"
	"github.com/your-org/docflow/internal/usecases"
)

func newRootCmd(app *App) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docflow",
		Short:         "Extract text from uploaded documents and track their processing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath == "" {
				configPath = os.Getenv("APP_CONFIG_PATH")
			}
			app.configPath = configPath
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: $APP_CONFIG_PATH)")

	root.AddCommand(
		newUploadCmd(app),
		newProcessCmd(app),
		newStatusCmd(app),
		newResultCmd(app),
		newListCmd(app),
		newExtractCmd(app),
		newDeleteCmd(app),
		newHealthCmd(app),
	)
	return root
}

func newUploadCmd(app *App) *cobra.Command {
	var (
		taskType string
		process  bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Store files as new documents",
		Long: "Store files as new documents in the uploaded state. With --process every document is\n" +
			"processed on the worker pool before the command prints its status.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}

			docs := make([]*domain.Document, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				doc, err := app.usecase.Upload(ctx, filepath.Base(path), data, taskType)
				if err != nil {
					return fmt.Errorf("upload %s: %w", path, err)
				}
				docs = append(docs, doc)
			}

			if !process {
				return writeJSON(cmd.OutOrStdout(), docs)
			}

			// Синхронно через пул воркеров: очередь Submit ограничена, и лишние документы
			// остались бы в uploaded без всякого отчета.
			ids := make([]string, len(docs))
			for i, doc := range docs {
				ids[i] = doc.ID
			}
			if _, err := app.usecase.ProcessBatch(ctx, ids, ""); err != nil {
				return err
			}

			views := make([]*domain.StatusView, 0, len(docs))
			failed := 0
			for _, doc := range docs {
				view, err := app.usecase.GetStatus(ctx, doc.ID)
				if err != nil {
					return err
				}
				if view.Status != domain.StatusCompleted {
					failed++
				}
				views = append(views, view)
			}
			if err := writeJSON(cmd.OutOrStdout(), views); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents were not completed", failed, len(docs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskType, "task", "t", usecases.DefaultTaskType, "task type applied to the extracted text")
	cmd.Flags().BoolVarP(&process, "process", "p", false, "process the documents after upload")
	return cmd
}

func newProcessCmd(app *App) *cobra.Command {
	var taskType string
	cmd := &cobra.Command{
		Use:   "process <id>...",
		Short: "Run (or re-run) processing for documents",
		Long: "Run processing for the given documents on the worker pool. Completed and failed documents\n" +
			"are reprocessed; a document that is already being processed is rejected.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}

			results, err := app.usecase.ProcessBatch(ctx, args, taskType)
			if err != nil {
				return err
			}

			type row struct {
				DocumentID string        `json:"document_id"`
				Status     domain.Status `json:"status,omitempty"`
				Content    string        `json:"content,omitempty"`
				Error      string        `json:"error,omitempty"`
			}
			rows := make([]row, len(results))
			failed := 0
			for i, res := range results {
				rows[i].DocumentID = res.Request.DocumentID
				if res.Outcome != nil {
					rows[i].Status = res.Outcome.Status
					if res.Outcome.Result != nil {
						rows[i].Content = res.Outcome.Result.Content
					}
				}
				if res.Error != nil {
					rows[i].Error = res.Error.Error()
					failed++
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), rows); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskType, "task", "t", "", "task type (default: the one recorded at upload)")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the processing status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			view, err := app.usecase.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newResultCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "result <id>",
		Short: "Print the stored result of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			res, err := app.usecase.GetResult(ctx, args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("document %s has no result yet", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			page, err := app.usecase.List(ctx, domain.PaginationParams{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of documents to skip")
	return cmd
}

func newExtractCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract and print the normalized text of a file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initBase(); err != nil {
				return err
			}
			text, err := app.newExtractor().Extract(args[0])
			if err != nil {
				if domain.IsUnsupportedFormat(err) {
					return fmt.Errorf("%w (supported: %v)", err, extraction.SupportedExtensions())
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document, its result and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			return app.usecase.Delete(ctx, args[0])
		},
	}
}

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the storage backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			status := map[string]any{
				"driver": app.config.Storage.Driver,
				"status": "ok",
			}
			if err := app.repo.CheckConnection(ctx); err != nil {
				status["status"] = "unhealthy"
				status["error"] = err.Error()
			}
			status["cache"] = app.cache.GetStats()
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
