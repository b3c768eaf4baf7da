package model

import (
	"fmt"
	"time"
)

// AttitudeField 用户对电影态度的可修改字段
type AttitudeField string

const (
	AttitudeFavorite AttitudeField = "favorite"
	AttitudeLiked    AttitudeField = "liked"
	AttitudeDisliked AttitudeField = "disliked"
	AttitudeSeen     AttitudeField = "seen"
	AttitudeIgnored  AttitudeField = "ignored"
)

// ParseAttitudeField 解析字段名
func ParseAttitudeField(s string) (AttitudeField, error) {
	switch f := AttitudeField(s); f {
	case AttitudeFavorite, AttitudeLiked, AttitudeDisliked, AttitudeSeen, AttitudeIgnored:
		return f, nil
	}
	return "", fmt.Errorf("unknown attitude field: %q", s)
}

// Attitude 用户对一部电影的态度
type Attitude struct {
	Favorite bool `json:"favorite"`
	Liked    bool `json:"liked"`
	Disliked bool `json:"disliked"`
	Seen     bool `json:"seen"`
	Ignored  bool `json:"ignored"`
}

// ApplyTransition 修改一个字段，并按规则修正其他字段
//
//	收藏 => 喜欢、看过，不再不喜欢
//	喜欢 => 看过，不再不喜欢
//	不喜欢 => 看过，不再喜欢、收藏
//	取消看过 => 取消喜欢、不喜欢、收藏
//	取消喜欢 => 取消收藏
func ApplyTransition(current Attitude, field AttitudeField, value bool) Attitude {
	next := current
	switch field {
	case AttitudeFavorite:
		next.Favorite = value
		if value {
			next.Liked, next.Seen, next.Disliked = true, true, false
		}
	case AttitudeLiked:
		next.Liked = value
		if value {
			next.Seen, next.Disliked = true, false
		} else {
			next.Favorite = false
		}
	case AttitudeDisliked:
		next.Disliked = value
		if value {
			next.Seen, next.Liked, next.Favorite = true, false, false
		}
	case AttitudeSeen:
		next.Seen = value
		if !value {
			next.Liked, next.Disliked, next.Favorite = false, false, false
		}
	case AttitudeIgnored:
		next.Ignored = value
	}
	return next
}

// MovieRelation 用户与电影的关系，(user_id, movie_id) 唯一
type MovieRelation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_movie_relations_user_movie,priority:1"`
	MovieID   uint      `json:"movie_id" gorm:"not null;uniqueIndex:idx_movie_relations_user_movie,priority:2"`
	Attitude  Attitude  `json:"attitude" gorm:"embedded"`
	Movie     *Movie    `json:"movie,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
