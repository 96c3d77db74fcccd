/*
 * Filename: /Users/bao/code/scanchor/priority_queue.go
 * Path: /Users/bao/code/scanchor
 * Created Date: Thursday, May 10th 2018, 2:03:09 pm
 * Author: bao
 *
 * Copyright (c) 2018 Haibao Tang
 */

package scanchor

import "container/heap"

// Item is a candidate neighbor, the priority is its distance to the query
type Item struct {
	value    int     // Row index of the candidate
	priority float64 // Distance to the query
	index    int     // Position within the heap
}

// A PriorityQueue implements heap.Interface and holds Items. The farthest
// candidate sits on top so that the queue keeps the k nearest.
type PriorityQueue []*Item

// Len returns the number of items in the queue
func (pq PriorityQueue) Len() int { return len(pq) }

// Less defines the way items get ordered
func (pq PriorityQueue) Less(i, j int) bool {
	// We want Pop to give us the farthest, equal distances rank the higher index as farther
	if pq[i].priority == pq[j].priority {
		return pq[i].value > pq[j].value
	}
	return pq[i].priority > pq[j].priority
}

// Swap exchanges values of two elements
func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the queue
func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*Item)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes the farthest element
func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// offer inserts a candidate if the queue has room or it beats the farthest one
func (pq *PriorityQueue) offer(value int, priority float64, k int) {
	if pq.Len() < k {
		heap.Push(pq, &Item{value: value, priority: priority})
		return
	}
	top := (*pq)[0]
	if priority < top.priority || (priority == top.priority && value < top.value) {
		top.value, top.priority = value, priority
		heap.Fix(pq, 0)
	}
}

// sorted drains the queue into neighbors ordered by distance then index
func (pq *PriorityQueue) sorted() []Neighbor {
	n := pq.Len()
	res := make([]Neighbor, n)
	for i := n - 1; i >= 0; i-- {
		item := heap.Pop(pq).(*Item)
		res[i] = Neighbor{Index: item.value, Distance: item.priority}
	}
	return res
}
