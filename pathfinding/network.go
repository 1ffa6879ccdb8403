// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package pathfinding

import (
	"container/heap"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iotexproject/iotex-channel-service/graph"
)

type (
	edgeKey struct {
		id   string
		from common.Address
	}

	// edge is a directed leg of an open channel able to carry the requested amount
	edge struct {
		key      edgeKey
		id       *big.Int
		from     common.Address
		to       common.Address
		capacity *big.Int
		fee      *big.Int
	}

	// network is the routable view of one token network for one amount
	network struct {
		adj map[common.Address][]*edge
	}

	// path is a sequence of edges with its total fee
	path struct {
		edges []*edge
		fee   *big.Int
	}

	item struct {
		node common.Address
		path *path
	}

	pathQueue []*item
)

// newNetwork keeps the legs with enough capacity for amount. Legs leaving source carry
// no fee since the initiator does not mediate.
func newNetwork(channels []*graph.Channel, source common.Address, amount *big.Int) *network {
	n := &network{adj: make(map[common.Address][]*edge)}
	for _, c := range channels {
		if c.Status != graph.StatusOpened {
			continue
		}
		for _, from := range []common.Address{c.Participant1, c.Participant2} {
			capacity := c.Capacity(from)
			if capacity.Cmp(amount) < 0 {
				continue
			}
			to, _ := c.Partner(from)
			fee := new(big.Int)
			if from != source {
				fee = c.FeeSchedule(from).Fee(amount)
			}
			n.adj[from] = append(n.adj[from], &edge{
				key:      edgeKey{id: c.ID.String(), from: from},
				id:       c.ID,
				from:     from,
				to:       to,
				capacity: capacity,
				fee:      fee,
			})
		}
	}
	return n
}

func (n *network) has(node common.Address) bool {
	if _, ok := n.adj[node]; ok {
		return true
	}
	for _, edges := range n.adj {
		for _, e := range edges {
			if e.to == node {
				return true
			}
		}
	}
	return false
}

func emptyPath() *path {
	return &path{fee: new(big.Int)}
}

func (p *path) extend(e *edge) *path {
	edges := make([]*edge, 0, len(p.edges)+1)
	edges = append(edges, p.edges...)
	return &path{
		edges: append(edges, e),
		fee:   new(big.Int).Add(p.fee, e.fee),
	}
}

func (p *path) join(o *path) *path {
	edges := make([]*edge, 0, len(p.edges)+len(o.edges))
	edges = append(edges, p.edges...)
	return &path{
		edges: append(edges, o.edges...),
		fee:   new(big.Int).Add(p.fee, o.fee),
	}
}

// less orders paths by total fee, then hop count, then channel ids
func (p *path) less(o *path) bool {
	if c := p.fee.Cmp(o.fee); c != 0 {
		return c < 0
	}
	if len(p.edges) != len(o.edges) {
		return len(p.edges) < len(o.edges)
	}
	for i := range p.edges {
		if c := p.edges[i].id.Cmp(o.edges[i].id); c != 0 {
			return c < 0
		}
	}
	return false
}

func (p *path) key() string {
	var k []byte
	for _, e := range p.edges {
		k = append(k, e.from.Bytes()...)
		k = append(k, e.id.Bytes()...)
		k = append(k, '/')
	}
	return string(k)
}

// nodes returns the vertices of the path starting with source
func (p *path) nodes(source common.Address) []common.Address {
	ret := make([]common.Address, 0, len(p.edges)+1)
	ret = append(ret, source)
	for _, e := range p.edges {
		ret = append(ret, e.to)
	}
	return ret
}

func (q pathQueue) Len() int { return len(q) }

func (q pathQueue) Less(i, j int) bool { return q[i].path.less(q[j].path) }

func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pathQueue) Push(x interface{}) {
	*q = append(*q, x.(*item))
}

func (q *pathQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[0 : n-1]
	return x
}

// shortest runs a best-first search from src to dst avoiding the banned edges and nodes
func (n *network) shortest(src, dst common.Address, bannedEdges map[edgeKey]bool, bannedNodes map[common.Address]bool) *path {
	best := make(map[common.Address]*path)
	done := make(map[common.Address]bool)
	q := &pathQueue{}
	heap.Push(q, &item{node: src, path: emptyPath()})
	for q.Len() > 0 {
		it := heap.Pop(q).(*item)
		if done[it.node] {
			continue
		}
		done[it.node] = true
		if it.node == dst {
			return it.path
		}
		for _, e := range n.adj[it.node] {
			if done[e.to] || bannedNodes[e.to] || bannedEdges[e.key] {
				continue
			}
			next := it.path.extend(e)
			if cur, ok := best[e.to]; ok && !next.less(cur) {
				continue
			}
			best[e.to] = next
			heap.Push(q, &item{node: e.to, path: next})
		}
	}
	return nil
}
