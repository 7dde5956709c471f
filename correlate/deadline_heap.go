// deadline_heap.go - Min-heap of pending-request deadlines.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

package correlate

// deadlineHeap orders pending requests by deadline, earliest first.  It
// implements heap.Interface; entries track their index so that resolved
// requests can be removed from the middle.
type deadlineHeap []*pendingRequest

func (h deadlineHeap) Len() int {
	return len(h)
}

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	p := x.(*pendingRequest)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}
