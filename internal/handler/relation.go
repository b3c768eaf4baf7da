package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/logger"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/utils"
)

// RelationBody 修改一个态度字段
type RelationBody struct {
	Field string `json:"field" binding:"required,oneof=favorite liked disliked seen ignored"`
	Value *bool  `json:"value" binding:"required"`
}

// SetRelation 修改用户对电影的态度，其他字段按规则联动
func (h *Handler) SetRelation(c *gin.Context) {
	userID, ok := parseID(c, "uid")
	if !ok {
		return
	}
	movieID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body RelationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.BadRequest(c, bindError(err))
		return
	}
	field, err := model.ParseAttitudeField(body.Field)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if _, ok := h.resolve(c, model.MovieRef(movieID)); !ok {
		return
	}

	ctx := c.Request.Context()
	rel, err := h.Relations.Get(ctx, userID, movieID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rel == nil {
		rel = &model.MovieRelation{UserID: userID, MovieID: movieID}
	}
	rel.Attitude = model.ApplyTransition(rel.Attitude, field, *body.Value)
	if err := h.Relations.Upsert(ctx, rel); err != nil {
		h.fail(c, err)
		return
	}
	logger.WithRequestID(h.Log, c).Debug("[API] 更新观影态度",
		zap.Uint("user_id", userID),
		zap.Uint("movie_id", movieID),
		zap.String("field", body.Field),
		zap.Bool("value", *body.Value))
	utils.Success(c, rel)
}

// ListRelations 用户有某种态度的电影，默认 liked
func (h *Handler) ListRelations(c *gin.Context) {
	userID, ok := parseID(c, "uid")
	if !ok {
		return
	}
	field, err := model.ParseAttitudeField(c.DefaultQuery("field", string(model.AttitudeLiked)))
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		utils.BadRequest(c, "limit 必须在 1 到 500 之间")
		return
	}

	records, err := h.Relations.ListByUser(c.Request.Context(), userID, field, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, records)
}
