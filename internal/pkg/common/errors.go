package common

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code      string            `json:"code"`              // 錯誤代碼
	Message   string            `json:"message"`           // 錯誤信息
	Outcome   Outcome           `json:"outcome"`           // rejected / dependency_failed / internal
	Retryable bool              `json:"retryable"`         // 是否建議稍後重試
	Fields    map[string]string `json:"fields,omitempty"`  // 結構化補充資訊
	Details   string            `json:"details,omitempty"` // 詳細信息（僅在開發模式顯示）
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Code    string // 錯誤代碼
	Message string // 錯誤信息
	Err     error  // 原始錯誤
	Status  int    // HTTP 狀態碼
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *CustomError) Unwrap() error { return e.Err }

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// ErrorCodeKey 錯誤回應寫入 gin context 的代碼，供存取日誌使用
const ErrorCodeKey = "error_code"

// 預定義錯誤代碼
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"   // 400
	ErrCodeNotFound        = "NOT_FOUND"         // 404
	ErrCodeRequestTimeout  = "REQUEST_TIMEOUT"   // 408
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS" // 429
	ErrCodeInternalError   = "INTERNAL_ERROR"    // 500
	ErrCodeGatewayTimeout  = "GATEWAY_TIMEOUT"   // 504
)

// 預定義錯誤
var (
	ErrInvalidRequest  = NewError(ErrCodeInvalidRequest, "無效的請求", http.StatusBadRequest, nil)
	ErrRouteNotFound   = NewError(ErrCodeNotFound, "資源不存在", http.StatusNotFound, nil)
	ErrTooManyRequests = NewError(ErrCodeTooManyRequests, "請求過於頻繁", http.StatusTooManyRequests, nil)
	ErrInternalError   = NewError(ErrCodeInternalError, "服務器內部錯誤", http.StatusInternalServerError, nil)
	ErrGatewayTimeout  = NewError(ErrCodeGatewayTimeout, "網關超時", http.StatusGatewayTimeout, nil)
)

// Kind 領域錯誤種類
type Kind string

const (
	KindCycle                Kind = "CYCLE"
	KindSelfReference        Kind = "SELF_REFERENCE"
	KindDuplicateEdge        Kind = "DUPLICATE_EDGE"
	KindMaxDepthExceeded     Kind = "MAX_DEPTH_EXCEEDED"
	KindNotFound             Kind = "NOT_FOUND"
	KindConflict             Kind = "CONFLICT"
	KindEmbeddingUnavailable Kind = "EMBEDDING_UNAVAILABLE"
	KindInvalidInput         Kind = "INVALID_INPUT"
)

// Outcome 呼叫端可見的結果分類
type Outcome string

const (
	// OutcomeRejected 操作被拒絕，資料未被修改
	OutcomeRejected Outcome = "rejected"
	// OutcomeDependencyFailed 外部依賴失敗，可稍後重試
	OutcomeDependencyFailed Outcome = "dependency_failed"
	// OutcomeInternal 未分類的內部錯誤
	OutcomeInternal Outcome = "internal"
)

// Status 對應的 HTTP 狀態碼
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindDuplicateEdge, KindCycle:
		return http.StatusConflict
	case KindSelfReference, KindInvalidInput:
		return http.StatusBadRequest
	case KindMaxDepthExceeded:
		return http.StatusUnprocessableEntity
	case KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Outcome 錯誤種類對應的結果分類
func (k Kind) Outcome() Outcome {
	if k == KindEmbeddingUnavailable {
		return OutcomeDependencyFailed
	}
	return OutcomeRejected
}

// DomainError 核心邏輯回報的結構化錯誤
type DomainError struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%s", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 以種類比對，讓 errors.Is(err, ErrCycle) 成立
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With 附加欄位並回傳自身
func (e *DomainError) With(key, value string) *DomainError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Wrap 附加底層錯誤並回傳自身
func (e *DomainError) Wrap(err error) *DomainError {
	e.Err = err
	return e
}

// 各種類的比對用哨兵值
var (
	ErrCycle                = &DomainError{Kind: KindCycle}
	ErrSelfReference        = &DomainError{Kind: KindSelfReference}
	ErrDuplicateEdge        = &DomainError{Kind: KindDuplicateEdge}
	ErrMaxDepthExceeded     = &DomainError{Kind: KindMaxDepthExceeded}
	ErrNotFound             = &DomainError{Kind: KindNotFound}
	ErrConflict             = &DomainError{Kind: KindConflict}
	ErrEmbeddingUnavailable = &DomainError{Kind: KindEmbeddingUnavailable}
	ErrInvalidInput         = &DomainError{Kind: KindInvalidInput}
)

// NewDomainError 創建領域錯誤
func NewDomainError(kind Kind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// NewCycleError 加入邊會形成環；path 為 child 到 parent 的既有路徑
func NewCycleError(parentID, childID string, path []string) *DomainError {
	e := NewDomainError(KindCycle, "edge would make the parent its own descendant").
		With("parent_id", parentID).
		With("child_id", childID)
	if len(path) > 0 {
		e.With("path", strings.Join(path, ">"))
	}
	return e
}

// NewSelfReferenceError 父子為同一節點
func NewSelfReferenceError(id string) *DomainError {
	return NewDomainError(KindSelfReference, "ingredient cannot be its own parent").With("ingredient_id", id)
}

// NewDuplicateEdgeError 邊已存在
func NewDuplicateEdgeError(parentID, childID string) *DomainError {
	return NewDomainError(KindDuplicateEdge, "parent edge already exists").
		With("parent_id", parentID).
		With("child_id", childID)
}

// NewMaxDepthExceededError 深度超過上限
func NewMaxDepthExceededError(nodeID string, depth, max int) *DomainError {
	return NewDomainError(KindMaxDepthExceeded, "hierarchy depth ceiling exceeded").
		With("ingredient_id", nodeID).
		With("depth", fmt.Sprint(depth)).
		With("max_depth", fmt.Sprint(max))
}

// NewNotFoundError 資源不存在
func NewNotFoundError(entity, id string) *DomainError {
	return NewDomainError(KindNotFound, entity+" not found").With("id", id)
}

// NewConflictError 唯一性衝突
func NewConflictError(entity, name string) *DomainError {
	return NewDomainError(KindConflict, entity+" already exists").With("name", name)
}

// NewEmbeddingUnavailableError 嵌入服務失敗
func NewEmbeddingUnavailableError(err error) *DomainError {
	return &DomainError{Kind: KindEmbeddingUnavailable, Message: "embedding service unavailable", Err: err}
}

// NewInvalidInputError 輸入無效
func NewInvalidInputError(message string) *DomainError {
	return NewDomainError(KindInvalidInput, message)
}

// KindOf 取得錯誤種類，非領域錯誤回傳空字串
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// ToErrorResponse 將任意錯誤轉為 API 響應與狀態碼
func ToErrorResponse(err error, debug bool) (int, ErrorResponse) {
	var de *DomainError
	if errors.As(err, &de) {
		resp := ErrorResponse{
			Code:      string(de.Kind),
			Message:   de.Message,
			Outcome:   de.Kind.Outcome(),
			Retryable: de.Kind.Outcome() == OutcomeDependencyFailed,
			Fields:    de.Fields,
		}
		if debug && de.Err != nil {
			resp.Details = de.Err.Error()
		}
		return de.Kind.Status(), resp
	}

	var ce *CustomError
	if errors.As(err, &ce) {
		resp := ErrorResponse{
			Code:      ce.Code,
			Message:   ce.Message,
			Outcome:   OutcomeRejected,
			Retryable: ce.Status == http.StatusTooManyRequests || ce.Status >= 500,
		}
		if ce.Status >= 500 {
			resp.Outcome = OutcomeInternal
		}
		if debug && ce.Err != nil {
			resp.Details = ce.Err.Error()
		}
		return ce.Status, resp
	}

	resp := ErrorResponse{
		Code:    ErrCodeInternalError,
		Message: "服務器內部錯誤",
		Outcome: OutcomeInternal,
	}
	if debug && err != nil {
		resp.Details = err.Error()
	}
	return http.StatusInternalServerError, resp
}
