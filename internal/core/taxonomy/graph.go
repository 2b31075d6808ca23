// Package taxonomy 食材分類的多父節點有向無環圖。
//
// Graph 是以穩定 ID 為鍵的節點集合，保存父子鄰接表與每個節點的深度。
// Planner 在不修改 Graph 的前提下驗證一次結構變更並算出深度傳播結果（ChangeSet），
// 呼叫端確認無誤後再以 Apply 套用，因此驗證失敗時不會留下任何部分修改。
package taxonomy

import "sort"

// DefaultMaxDepth 預設深度上限
const DefaultMaxDepth = 3

// Edge 父子邊
type Edge struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Graph 食材階層圖
type Graph struct {
	depth    map[string]int
	parents  map[string]set
	children map[string]set
}

// NewGraph 創建空圖
func NewGraph() *Graph {
	return &Graph{
		depth:    make(map[string]int),
		parents:  make(map[string]set),
		children: make(map[string]set),
	}
}

// AddNode 新增節點或覆寫既有節點的深度
func (g *Graph) AddNode(id string, depth int) {
	g.depth[id] = depth
	if g.parents[id] == nil {
		g.parents[id] = make(set)
	}
	if g.children[id] == nil {
		g.children[id] = make(set)
	}
}

// RemoveNode 移除節點及其所有相連的邊
func (g *Graph) RemoveNode(id string) {
	for p := range g.parents[id] {
		delete(g.children[p], id)
	}
	for c := range g.children[id] {
		delete(g.parents[c], id)
	}
	delete(g.parents, id)
	delete(g.children, id)
	delete(g.depth, id)
}

// AddEdge 直接加入邊，不做任何驗證（載入既有資料用）
func (g *Graph) AddEdge(parentID, childID string) {
	if !g.Has(parentID) {
		g.AddNode(parentID, 0)
	}
	if !g.Has(childID) {
		g.AddNode(childID, 0)
	}
	g.children[parentID][childID] = struct{}{}
	g.parents[childID][parentID] = struct{}{}
}

// RemoveEdge 直接移除邊
func (g *Graph) RemoveEdge(parentID, childID string) {
	delete(g.children[parentID], childID)
	delete(g.parents[childID], parentID)
}

// Has 節點是否存在
func (g *Graph) Has(id string) bool {
	_, ok := g.depth[id]
	return ok
}

// Len 節點數
func (g *Graph) Len() int { return len(g.depth) }

// Depth 節點深度
func (g *Graph) Depth(id string) (int, bool) {
	d, ok := g.depth[id]
	return d, ok
}

// HasEdge 邊是否存在
func (g *Graph) HasEdge(parentID, childID string) bool {
	_, ok := g.children[parentID][childID]
	return ok
}

// Parents 直接父節點（已排序）
func (g *Graph) Parents(id string) []string { return g.parents[id].sorted() }

// Children 直接子節點（已排序）
func (g *Graph) Children(id string) []string { return g.children[id].sorted() }

// Nodes 所有節點（已排序）
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.depth))
	for id := range g.depth {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Edges 所有邊，依父、子排序
func (g *Graph) Edges() []Edge {
	var out []Edge
	for p, cs := range g.children {
		for c := range cs {
			out = append(out, Edge{ParentID: p, ChildID: c})
		}
	}
	sortEdges(out)
	return out
}

// Ancestors 所有祖先（已排序）
func (g *Graph) Ancestors(id string) []string { return g.reach(id, g.parents) }

// Descendants 所有後代（已排序）
func (g *Graph) Descendants(id string) []string { return g.reach(id, g.children) }

// reach 沿 adj 走訪，visited 保證在異常資料（含環）上也會結束
func (g *Graph) reach(id string, adj map[string]set) []string {
	visited := set{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for next := range adj[n] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	delete(visited, id)
	return visited.sorted()
}

// pathUp 從 from 沿父邊向上找 target，回傳 target 到 from 的路徑（祖先在前）
func (g *Graph) pathUp(from, target string) ([]string, bool) {
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == target {
			path := []string{n}
			for cur := prev[n]; cur != ""; cur = prev[cur] {
				path = append(path, cur)
			}
			return path, true
		}
		for _, p := range g.parents[n].sorted() {
			if _, seen := prev[p]; seen {
				continue
			}
			prev[p] = n
			queue = append(queue, p)
		}
	}
	return nil, false
}

// Clone 深拷貝
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	for id, d := range g.depth {
		out.AddNode(id, d)
	}
	for p, cs := range g.children {
		for c := range cs {
			out.AddEdge(p, c)
		}
	}
	return out
}

// Apply 套用已驗證的變更
func (g *Graph) Apply(cs *ChangeSet) {
	if cs == nil {
		return
	}
	for _, e := range cs.Removed {
		g.RemoveEdge(e.ParentID, e.ChildID)
	}
	for _, id := range cs.Deleted {
		g.RemoveNode(id)
	}
	for _, e := range cs.Added {
		g.AddEdge(e.ParentID, e.ChildID)
	}
	for _, d := range cs.Depths {
		if g.Has(d.IngredientID) {
			g.depth[d.IngredientID] = d.To
		}
	}
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ParentID != edges[j].ParentID {
			return edges[i].ParentID < edges[j].ParentID
		}
		return edges[i].ChildID < edges[j].ChildID
	})
}
