package taxonomy

import (
	"sort"
	"strings"

	"recipe-matcher/internal/pkg/common"
)

// DepthChange 單一節點的深度變化
type DepthChange struct {
	IngredientID string `json:"ingredient_id"`
	From         int    `json:"from"`
	To           int    `json:"to"`
}

// ChangeSet 一次結構變更的完整結果，整批套用或整批放棄
type ChangeSet struct {
	Added   []Edge        `json:"added,omitempty"`
	Removed []Edge        `json:"removed,omitempty"`
	Deleted []string      `json:"deleted,omitempty"`
	Depths  []DepthChange `json:"depths,omitempty"`
}

// Empty 是否沒有任何變更
func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Added)+len(cs.Removed)+len(cs.Deleted)+len(cs.Depths) == 0
}

// Planner 驗證結構變更並計算深度傳播
type Planner struct {
	MaxDepth int
}

// NewPlanner 創建規劃器，maxDepth <= 0 時使用預設值
func NewPlanner(maxDepth int) *Planner {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Planner{MaxDepth: maxDepth}
}

// PlanAddEdge 加入 parent -> child。
// 依序檢查：自我參照、節點存在、重複邊、環、深度上限。
func (p *Planner) PlanAddEdge(g *Graph, parentID, childID string) (*ChangeSet, error) {
	if parentID == childID {
		return nil, common.NewSelfReferenceError(parentID)
	}
	if !g.Has(parentID) {
		return nil, common.NewNotFoundError("ingredient", parentID)
	}
	if !g.Has(childID) {
		return nil, common.NewNotFoundError("ingredient", childID)
	}
	if g.HasEdge(parentID, childID) {
		return nil, common.NewDuplicateEdgeError(parentID, childID)
	}
	// child 已是 parent 的祖先時，新邊會形成環
	if path, found := g.pathUp(parentID, childID); found {
		return nil, common.NewCycleError(parentID, childID, path)
	}

	e := Edge{ParentID: parentID, ChildID: childID}
	v := newView(g)
	v.added[e] = struct{}{}
	if err := v.propagate(p.MaxDepth, []string{childID}); err != nil {
		return nil, err
	}
	cs := v.changeSet()
	cs.Added = []Edge{e}
	return cs, nil
}

// PlanRemoveEdge 移除 parent -> child，child 及其後代深度重算
func (p *Planner) PlanRemoveEdge(g *Graph, parentID, childID string) (*ChangeSet, error) {
	if !g.HasEdge(parentID, childID) {
		return nil, common.NewNotFoundError("parent edge", parentID+">"+childID).
			With("parent_id", parentID).
			With("child_id", childID)
	}
	e := Edge{ParentID: parentID, ChildID: childID}
	v := newView(g)
	v.removed[e] = struct{}{}
	if err := v.propagate(p.MaxDepth, []string{childID}); err != nil {
		return nil, err
	}
	cs := v.changeSet()
	cs.Removed = []Edge{e}
	return cs, nil
}

// PlanDeleteNode 刪除節點；失去最後一個父節點的子節點成為根（深度 0）
func (p *Planner) PlanDeleteNode(g *Graph, id string) (*ChangeSet, error) {
	if !g.Has(id) {
		return nil, common.NewNotFoundError("ingredient", id)
	}
	v := newView(g)
	v.deleted[id] = struct{}{}
	var removed []Edge
	for _, parent := range g.Parents(id) {
		e := Edge{ParentID: parent, ChildID: id}
		v.removed[e] = struct{}{}
		removed = append(removed, e)
	}
	children := g.Children(id)
	for _, child := range children {
		e := Edge{ParentID: id, ChildID: child}
		v.removed[e] = struct{}{}
		removed = append(removed, e)
	}
	if err := v.propagate(p.MaxDepth, children); err != nil {
		return nil, err
	}
	cs := v.changeSet()
	sortEdges(removed)
	cs.Removed = removed
	cs.Deleted = []string{id}
	return cs, nil
}

// PlanRepair 全圖重算深度，修正與結構不一致的既有資料
func (p *Planner) PlanRepair(g *Graph) (*ChangeSet, error) {
	v := newView(g)
	if err := v.propagate(p.MaxDepth, g.Nodes()); err != nil {
		return nil, err
	}
	return v.changeSet(), nil
}

// view 在原圖上疊加尚未套用的變更
type view struct {
	g       *Graph
	added   map[Edge]struct{}
	removed map[Edge]struct{}
	deleted set
	depths  map[string]int
}

func newView(g *Graph) *view {
	return &view{
		g:       g,
		added:   make(map[Edge]struct{}),
		removed: make(map[Edge]struct{}),
		deleted: make(set),
		depths:  make(map[string]int),
	}
}

func (v *view) alive(id string) bool {
	_, gone := v.deleted[id]
	return !gone
}

func (v *view) parents(id string) []string {
	var out []string
	for parent := range v.g.parents[id] {
		if _, gone := v.removed[Edge{ParentID: parent, ChildID: id}]; gone || !v.alive(parent) {
			continue
		}
		out = append(out, parent)
	}
	for e := range v.added {
		if e.ChildID == id {
			out = append(out, e.ParentID)
		}
	}
	return out
}

func (v *view) children(id string) []string {
	var out []string
	for child := range v.g.children[id] {
		if _, gone := v.removed[Edge{ParentID: id, ChildID: child}]; gone || !v.alive(child) {
			continue
		}
		out = append(out, child)
	}
	for e := range v.added {
		if e.ParentID == id {
			out = append(out, e.ChildID)
		}
	}
	sort.Strings(out)
	return out
}

func (v *view) depth(id string) int {
	if d, ok := v.depths[id]; ok {
		return d
	}
	return v.g.depth[id]
}

// propagate 對 seeds 及其所有後代做一次拓撲排序，依序重算深度。
// 深度 = 0（無父）或 1 + max(父深度)；每個節點只計算一次，
// 多父節點在所有受影響的父節點確定後才計算。
func (v *view) propagate(maxDepth int, seeds []string) error {
	affected := make(set)
	queue := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if !v.alive(id) || !v.g.Has(id) {
			continue
		}
		if _, ok := affected[id]; ok {
			continue
		}
		affected[id] = struct{}{}
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, c := range v.children(n) {
			if _, ok := affected[c]; ok {
				continue
			}
			affected[c] = struct{}{}
			queue = append(queue, c)
		}
	}

	indegree := make(map[string]int, len(affected))
	for id := range affected {
		for _, parent := range v.parents(id) {
			if _, ok := affected[parent]; ok {
				indegree[id]++
			}
		}
	}
	ready := make([]string, 0)
	for _, id := range affected.sorted() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	processed := 0
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		processed++

		d := 0
		for _, parent := range v.parents(n) {
			if pd := v.depth(parent) + 1; pd > d {
				d = pd
			}
		}
		if d > maxDepth {
			return common.NewMaxDepthExceededError(n, d, maxDepth)
		}
		v.depths[n] = d

		for _, c := range v.children(n) {
			if _, ok := affected[c]; !ok {
				continue
			}
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if processed < len(affected) {
		// 既有資料已含環，無法定義深度
		var stuck []string
		for _, id := range affected.sorted() {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return common.NewDomainError(common.KindCycle, "stored hierarchy contains a cycle").
			With("nodes", strings.Join(stuck, ","))
	}
	return nil
}

// changeSet 只收錄實際改變的深度
func (v *view) changeSet() *ChangeSet {
	cs := &ChangeSet{}
	ids := make([]string, 0, len(v.depths))
	for id := range v.depths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		from := v.g.depth[id]
		if to := v.depths[id]; to != from {
			cs.Depths = append(cs.Depths, DepthChange{IngredientID: id, From: from, To: to})
		}
	}
	return cs
}
