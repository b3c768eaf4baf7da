package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/logger"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/service"
	"github.com/user/kinomerge/internal/utils"
)

// SyncBody POST /api/v1/sync 请求体
type SyncBody struct {
	Kind   string   `json:"kind" binding:"required,oneof=movie person"`
	ID     uint     `json:"id" binding:"required,min=1"`
	Source string   `json:"source" binding:"required,oneof=imdb kinopoisk"`
	Stages []string `json:"stages" binding:"omitempty,dive,oneof=details cast images links"`
	Mode   string   `json:"mode" binding:"omitempty,oneof=existing all"`
}

func (b SyncBody) request() (service.SyncRequest, error) {
	ref, err := model.NewRef(model.Kind(b.Kind), b.ID)
	if err != nil {
		return service.SyncRequest{}, err
	}
	req := service.SyncRequest{Ref: ref, Source: model.Source(b.Source), Mode: reconcile.Mode(b.Mode)}
	for _, st := range b.Stages {
		req.Stages = append(req.Stages, model.Stage(st))
	}
	return req, nil
}

// EnqueueSync 把同步任务加入后台队列，立即返回 202
func (h *Handler) EnqueueSync(c *gin.Context) {
	var body SyncBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.BadRequest(c, bindError(err))
		return
	}
	req, err := body.request()
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if _, ok := h.resolve(c, req.Ref); !ok {
		return
	}

	h.Queue.Enqueue(req)
	logger.WithRequestID(h.Log, c).Info("[API] 同步任务已入队",
		zap.Stringer("ref", req.Ref),
		zap.String("source", string(req.Source)))
	utils.Accepted(c, gin.H{
		"ref":    req.Ref.String(),
		"source": req.Source,
		"stages": body.Stages,
		"mode":   body.Mode,
	})
}

// SyncStatus 实体在各数据源上的同步状态
func (h *Handler) SyncStatus(c *gin.Context) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ref, err := model.NewRef(kind, id)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	content, ok := h.resolve(c, ref)
	if !ok {
		return
	}

	statuses, err := h.Status.Status(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, gin.H{
		"ref":     ref.String(),
		"name":    content.DisplayName(),
		"sources": statuses,
	})
}
