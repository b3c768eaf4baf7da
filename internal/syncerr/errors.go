// Package syncerr 外部数据同步的错误分类
package syncerr

import (
	"errors"
	"fmt"
)

// 错误代码
const (
	CodeNothingFound      = "NOTHING_FOUND"
	CodeAmbiguous         = "AMBIGUOUS"
	CodePossibleDuplicate = "POSSIBLE_DUPLICATE"
	CodeWrongValue        = "WRONG_VALUE"
	CodeTransient         = "TRANSIENT"
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrNothingFound      = errors.New("nothing found")
	ErrAmbiguous         = errors.New("ambiguous match")
	ErrPossibleDuplicate = errors.New("possible duplicate")
	ErrWrongValue        = errors.New("wrong value")
	ErrTransient         = errors.New("transient failure")
)

var sentinels = map[string]error{
	CodeNothingFound:      ErrNothingFound,
	CodeAmbiguous:         ErrAmbiguous,
	CodePossibleDuplicate: ErrPossibleDuplicate,
	CodeWrongValue:        ErrWrongValue,
	CodeTransient:         ErrTransient,
}

// SyncError 同步过程中的分类错误
type SyncError struct {
	Message string
	Code    string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// ErrorCode 错误代码
func (e *SyncError) ErrorCode() string {
	return e.Code
}

// Is 让 errors.Is(err, ErrNothingFound) 等按代码匹配
func (e *SyncError) Is(target error) bool {
	return sentinels[e.Code] == target
}

// WithCause 附加底层错误
func (e *SyncError) WithCause(cause error) *SyncError {
	e.Cause = cause
	return e
}

func newError(code, format string, args ...any) *SyncError {
	return &SyncError{Message: fmt.Sprintf(format, args...), Code: code}
}

// NothingFound 所有策略都没有找到唯一匹配
func NothingFound(format string, args ...any) *SyncError {
	return newError(CodeNothingFound, format, args...)
}

// Ambiguous 候选之间相互矛盾，无法确定
func Ambiguous(format string, args ...any) *SyncError {
	return newError(CodeAmbiguous, format, args...)
}

// WrongValue 输入不足以搜索或外部数据不合法
func WrongValue(format string, args ...any) *SyncError {
	return newError(CodeWrongValue, format, args...)
}

// Transient 网络、超时、限流等可重试错误
func Transient(cause error, format string, args ...any) *SyncError {
	return newError(CodeTransient, format, args...).WithCause(cause)
}

// DuplicateError 外部 ID 已被其他本地实体占用，或本地实体已绑定其他外部 ID
type DuplicateError struct {
	*SyncError
	Source     string
	Kind       string
	ExternalID int64
	ClaimedBy  uint // 当前占用者，0 表示外部 ID 未被占用
	Wanted     uint // 本次想要绑定的本地实体
	BoundTo    int64
}

// PossibleDuplicate 构造身份冲突错误
func PossibleDuplicate(source, kind string, externalID int64, claimedBy, wanted uint) *DuplicateError {
	return &DuplicateError{
		SyncError: newError(CodePossibleDuplicate,
			"%s %s %d is already bound to local %d, refusing to bind local %d",
			source, kind, externalID, claimedBy, wanted),
		Source:     source,
		Kind:       kind,
		ExternalID: externalID,
		ClaimedBy:  claimedBy,
		Wanted:     wanted,
	}
}

// AlreadyBound 本地实体已绑定到另一个外部 ID
func AlreadyBound(source, kind string, localID uint, boundTo, externalID int64) *DuplicateError {
	return &DuplicateError{
		SyncError: newError(CodePossibleDuplicate,
			"local %s %d is already bound to %s %d, refusing to bind %d",
			kind, localID, source, boundTo, externalID),
		Source:     source,
		Kind:       kind,
		ExternalID: externalID,
		Wanted:     localID,
		BoundTo:    boundTo,
	}
}

// PageTaken 维基百科页面已属于其他实体
func PageTaken(lang, title, kind string, claimedBy, wanted uint) *DuplicateError {
	return &DuplicateError{
		SyncError: newError(CodePossibleDuplicate,
			"wikipedia page %s:%s is already attached to %s %d, refusing to attach %d",
			lang, title, kind, claimedBy, wanted),
		Source:    "wikipedia",
		Kind:      kind,
		ClaimedBy: claimedBy,
		Wanted:    wanted,
	}
}

// Code 返回错误链中第一个分类错误的代码，未分类返回空串
func Code(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// IsSkippable 单条记录层面的失败：跳过并继续
func IsSkippable(err error) bool {
	return errors.Is(err, ErrNothingFound) || errors.Is(err, ErrAmbiguous) || errors.Is(err, ErrWrongValue)
}

// IsTransient 是否值得重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
