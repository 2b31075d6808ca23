// Package canonical 把自由文字對應到標準食材。
//
// 先做兩階段精確比對（食材名稱，再別名），命中即回傳，不呼叫嵌入服務；
// 未命中時依模式做向量搜尋（lookup）、新增別名（map）或新增食材（create）。
package canonical

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/vector"
	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// ModeKind 解析模式
type ModeKind string

const (
	ModeLookup ModeKind = "lookup"
	ModeMap    ModeKind = "map"
	ModeCreate ModeKind = "create"
)

// Mode 解析模式；ModeMap 需要 IngredientID
type Mode struct {
	Kind         ModeKind
	IngredientID string
}

// Lookup 只查詢，不寫入
func Lookup() Mode { return Mode{Kind: ModeLookup} }

// MapTo 把文字加為既有食材的別名
func MapTo(ingredientID string) Mode { return Mode{Kind: ModeMap, IngredientID: ingredientID} }

// CreateNew 以文字建立新食材
func CreateNew() Mode { return Mode{Kind: ModeCreate} }

// Outcome 解析結果分類
type Outcome string

const (
	OutcomeExactIngredient Outcome = "exact_ingredient"
	OutcomeExactAlias      Outcome = "exact_alias"
	OutcomeVector          Outcome = "vector"
	OutcomeMapped          Outcome = "mapped"
	OutcomeCreated         Outcome = "created"
)

// Match 帶信心分數的候選
type Match struct {
	IngredientID string                `json:"ingredient_id"`
	Name         string                `json:"name"`
	Source       model.CandidateSource `json:"source"`
	Distance     float64               `json:"distance"`
	Confidence   float64               `json:"confidence"`
}

// Result 解析結果。
// 精確命中與寫入成功時 IngredientID 有值；向量搜尋只回傳候選，IngredientID 為空。
type Result struct {
	Text         string            `json:"text"`
	Mode         ModeKind          `json:"mode"`
	Outcome      Outcome           `json:"outcome"`
	IngredientID string            `json:"ingredient_id,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	Candidates   []Match           `json:"candidates,omitempty"`
	Ingredient   *model.Ingredient `json:"ingredient,omitempty"`
	Alias        *model.Alias      `json:"alias,omitempty"`
}

// Service 正規化服務
type Service struct {
	store    store.Store
	index    *vector.Index
	embedder embedding.Embedder
	defaultK int
}

// NewService 創建正規化服務
func NewService(s store.Store, index *vector.Index, embedder embedding.Embedder, defaultK int) *Service {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &Service{store: s, index: index, embedder: embedder, defaultK: defaultK}
}

// Resolve 解析文字；k <= 0 時使用預設候選數
func (s *Service) Resolve(ctx context.Context, text string, mode Mode, k int) (*Result, error) {
	res, err := s.resolve(ctx, text, mode, k)
	outcome := "error"
	if err == nil {
		outcome = string(res.Outcome)
	}
	metrics.Resolutions.WithLabelValues(string(mode.Kind), outcome).Inc()
	if err != nil {
		common.LogWarn("食材解析失敗",
			zap.String("text", text),
			zap.String("mode", string(mode.Kind)),
			zap.String("kind", string(common.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}
	common.LogDebug("食材解析完成",
		zap.String("text", text),
		zap.String("mode", string(mode.Kind)),
		zap.String("outcome", outcome),
		zap.String("ingredient_id", res.IngredientID),
	)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, text string, mode Mode, k int) (*Result, error) {
	if model.NormalizeName(text) == "" {
		return nil, common.NewInvalidInputError("text is empty")
	}
	switch mode.Kind {
	case ModeLookup:
		return s.lookup(ctx, text, k)
	case ModeMap:
		if mode.IngredientID == "" {
			return nil, common.NewInvalidInputError("map mode requires ingredient_id")
		}
		return s.mapAlias(ctx, text, mode.IngredientID)
	case ModeCreate:
		return s.create(ctx, text)
	default:
		return nil, common.NewInvalidInputError("unknown resolve mode").With("mode", string(mode.Kind))
	}
}

// exactMatch 兩階段精確比對；都沒命中時回傳 nil, "", nil
func (s *Service) exactMatch(ctx context.Context, text string) (*model.Ingredient, Outcome, error) {
	ing, err := s.store.FindIngredientByName(ctx, text)
	if err == nil {
		return ing, OutcomeExactIngredient, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, "", err
	}

	alias, err := s.store.FindAliasByName(ctx, text)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	ing, err = s.store.GetIngredient(ctx, alias.IngredientID)
	if err != nil {
		return nil, "", err
	}
	return ing, OutcomeExactAlias, nil
}

func (s *Service) lookup(ctx context.Context, text string, k int) (*Result, error) {
	ing, outcome, err := s.exactMatch(ctx, text)
	if err != nil {
		return nil, err
	}
	if ing != nil {
		return &Result{
			Text:         text,
			Mode:         ModeLookup,
			Outcome:      outcome,
			IngredientID: ing.ID,
			Confidence:   1,
			Candidates: []Match{{
				IngredientID: ing.ID,
				Name:         ing.Name,
				Source:       sourceOf(outcome),
				Confidence:   1,
			}},
		}, nil
	}

	if k <= 0 {
		k = s.defaultK
	}
	vec, err := s.embedder.Embed(ctx, text, embedding.TaskQuery)
	if err != nil {
		return nil, asEmbeddingError(err)
	}
	candidates, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		matches[i] = Match{
			IngredientID: c.IngredientID,
			Name:         c.Name,
			Source:       c.Source,
			Distance:     c.Distance,
			Confidence:   vector.Confidence(c.Distance),
		}
	}
	return &Result{Text: text, Mode: ModeLookup, Outcome: OutcomeVector, Candidates: matches}, nil
}

func (s *Service) mapAlias(ctx context.Context, text, ingredientID string) (*Result, error) {
	target, err := s.store.GetIngredient(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	if err := s.rejectExisting(ctx, text); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, text, embedding.TaskDocument)
	if err != nil {
		return nil, asEmbeddingError(err)
	}
	alias := &model.Alias{Name: text, IngredientID: target.ID, Embedding: vec}
	if err := s.store.CreateAlias(ctx, alias); err != nil {
		return nil, err
	}
	common.LogInfo("新增別名",
		zap.String("alias", alias.Name),
		zap.String("ingredient_id", target.ID),
	)
	return &Result{
		Text:         text,
		Mode:         ModeMap,
		Outcome:      OutcomeMapped,
		IngredientID: target.ID,
		Confidence:   1,
		Ingredient:   target,
		Alias:        alias,
	}, nil
}

func (s *Service) create(ctx context.Context, text string) (*Result, error) {
	if err := s.rejectExisting(ctx, text); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, text, embedding.TaskDocument)
	if err != nil {
		return nil, asEmbeddingError(err)
	}
	ing := &model.Ingredient{Name: text, Embedding: vec}
	if err := s.store.CreateIngredient(ctx, ing); err != nil {
		return nil, err
	}
	common.LogInfo("新增食材", zap.String("name", ing.Name), zap.String("ingredient_id", ing.ID))
	return &Result{
		Text:         text,
		Mode:         ModeCreate,
		Outcome:      OutcomeCreated,
		IngredientID: ing.ID,
		Confidence:   1,
		Ingredient:   ing,
	}, nil
}

// rejectExisting 文字已能精確解析時拒絕寫入，錯誤帶出既有的食材 ID
func (s *Service) rejectExisting(ctx context.Context, text string) error {
	ing, outcome, err := s.exactMatch(ctx, text)
	if err != nil {
		return err
	}
	if ing == nil {
		return nil
	}
	entity := "ingredient"
	if outcome == OutcomeExactAlias {
		entity = "alias"
	}
	return common.NewConflictError(entity, text).With("ingredient_id", ing.ID)
}

func sourceOf(o Outcome) model.CandidateSource {
	if o == OutcomeExactAlias {
		return model.SourceAlias
	}
	return model.SourceIngredient
}

// asEmbeddingError 確保嵌入失敗一律以 EmbeddingUnavailable 回報
func asEmbeddingError(err error) error {
	if common.KindOf(err) != "" {
		return err
	}
	return common.NewEmbeddingUnavailableError(err)
}
