package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/kinomerge/internal/app"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/service"
)

var (
	syncSource string
	syncStages []string
	syncMode   string
)

// parseRequest 把命令行参数转换为同步请求
func parseRequest(kind, id, source string, stages []string, mode string) (service.SyncRequest, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return service.SyncRequest{}, err
	}
	localID, err := strconv.ParseUint(id, 10, 64)
	if err != nil || localID == 0 {
		return service.SyncRequest{}, fmt.Errorf("invalid id: %q", id)
	}
	ref, err := model.NewRef(k, uint(localID))
	if err != nil {
		return service.SyncRequest{}, err
	}
	src, err := model.ParseSource(source)
	if err != nil {
		return service.SyncRequest{}, err
	}
	req := service.SyncRequest{Ref: ref, Source: src}
	for _, s := range stages {
		st, err := model.ParseStage(s)
		if err != nil {
			return service.SyncRequest{}, err
		}
		req.Stages = append(req.Stages, st)
	}
	if mode != "" {
		if req.Mode, err = reconcile.ParseMode(mode); err != nil {
			return service.SyncRequest{}, err
		}
	}
	return req, nil
}

func newSyncCmd(kind string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <id>",
		Short: fmt.Sprintf("Sync a local %s from an external source", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseRequest(kind, args[0], syncSource, syncStages, syncMode)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Sync.Sync(cmd.Context(), req)
				if result != nil {
					if perr := printJSON(cmd, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <movie|person> <id>",
	Short: "Show per-source sync state of a local entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := parseRequest(args[0], args[1], string(model.SourceIMDb), nil, "")
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			statuses, err := a.Sync.Status(cmd.Context(), req.Ref)
			if err != nil {
				return err
			}
			return printJSON(cmd, statuses)
		})
	},
}

func init() {
	for _, kind := range []model.Kind{model.KindMovie, model.KindPerson} {
		c := newSyncCmd(string(kind))
		c.Flags().StringVar(&syncSource, "source", string(model.SourceIMDb), "external source: imdb or kinopoisk")
		c.Flags().StringSliceVar(&syncStages, "stages", nil, "stages to run (details,cast,images,links); all when empty")
		c.Flags().StringVar(&syncMode, "mode", "", "cast mode: existing or all; configured default when empty")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(statusCmd)
}
