package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/logger"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/service"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

// Enqueuer 接收后台同步任务
type Enqueuer interface {
	Enqueue(req service.SyncRequest) pond.Task
}

// StatusReader 查询实体的同步状态
type StatusReader interface {
	Status(ctx context.Context, ref model.ContentRef) ([]service.SourceStatus, error)
}

// RelationStore 用户与电影关系的读写
type RelationStore interface {
	Get(ctx context.Context, userID, movieID uint) (*model.MovieRelation, error)
	Upsert(ctx context.Context, m *model.MovieRelation) error
	ListByUser(ctx context.Context, userID uint, field model.AttitudeField, limit int) ([]*model.MovieRelation, error)
}

// Handler HTTP 处理器
type Handler struct {
	Store     repository.Store
	Registry  *repository.ContentRegistry
	Queue     Enqueuer
	Status    StatusReader
	Relations RelationStore
	Log       *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(store repository.Store, queue Enqueuer, status StatusReader, relations RelationStore, log *zap.Logger) *Handler {
	return &Handler{
		Store:     store,
		Registry:  repository.NewContentRegistry(),
		Queue:     queue,
		Status:    status,
		Relations: relations,
		Log:       log,
	}
}

// parseID 解析路径中的正整数 ID
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.BadRequest(c, fmt.Sprintf("无效的 %s", name))
		return 0, false
	}
	return uint(id), true
}

// resolve 确认实体存在，不存在时写出 404
func (h *Handler) resolve(c *gin.Context, ref model.ContentRef) (model.Content, bool) {
	content, err := h.Registry.Resolve(c.Request.Context(), h.Store, ref)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if content == nil {
		utils.NotFound(c, fmt.Sprintf("%s 不存在", ref))
		return nil, false
	}
	return content, true
}

// bindError 把校验错误转换为可读的提示
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s: %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		}
		return strings.Join(msgs, "; ")
	}
	return err.Error()
}

// fail 按错误分类写出响应
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncerr.ErrNothingFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, syncerr.ErrWrongValue):
		utils.BadRequest(c, err.Error())
	case errors.Is(err, syncerr.ErrPossibleDuplicate):
		utils.Conflict(c, err.Error())
	case syncerr.IsTransient(err):
		utils.ServiceUnavailable(c, "")
	default:
		logger.WithRequestID(h.Log, c).Error("[API] 请求处理失败", zap.Error(err))
		utils.InternalServerError(c, "")
	}
	_ = c.Error(err)
}
