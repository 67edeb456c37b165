package asm

import (
	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/slowlang/rvcheri/compiler/set"
)

type (
	liveJob struct {
		block BlockID
		pos   int
	}
)

// LiveOuts is the union of live-ins of the block successors.
func (f *Func) LiveOuts(id BlockID) (live Regs) {
	for _, s := range f.Blocks[id].Succs {
		live.Merge(f.Blocks[s].LiveIns)
	}

	return live
}

// ComputeLiveIns recomputes live-ins of a single block from its successors.
func (f *Func) ComputeLiveIns(id BlockID) {
	b := f.Blocks[id]

	b.LiveIns = stepBackward(f.LiveOuts(id), b.Code)
}

// Liveness computes live-ins of every block to a fixed point.
// Blocks are visited in reverse layout order, predecessors are requeued on change.
func (f *Func) Liveness() {
	tr := tlog.V("liveness")

	preds := make([][]BlockID, len(f.Blocks))

	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			preds[s] = append(preds[s], b.ID)
		}
	}

	pos := make([]int, len(f.Blocks))
	for i, id := range f.Layout {
		pos[id] = i
	}

	q := heap.Heap[liveJob]{Less: func(d []liveJob, i, j int) bool { return d[i].pos > d[j].pos }}
	var queued set.Bits[BlockID]

	push := func(id BlockID) {
		if queued.IsSet(id) {
			return
		}

		queued.Set(id)
		q.Push(liveJob{block: id, pos: pos[id]})
	}

	for _, id := range f.Layout {
		push(id)
	}

	iters := 0

	for q.Len() != 0 {
		j := q.Pop()
		queued.Clear(j.block)
		iters++

		b := f.Blocks[j.block]

		in := stepBackward(f.LiveOuts(b.ID), b.Code)
		if in.Equal(b.LiveIns) {
			continue
		}

		b.LiveIns = in

		for _, p := range preds[b.ID] {
			push(p)
		}
	}

	tr.Printw("liveness done", "func", f.Name, "blocks", len(f.Blocks), "iterations", iters)
}

func stepBackward(live Regs, code []Instr) Regs {
	live = live.Copy()

	for i := len(code) - 1; i >= 0; i-- {
		x := code[i]

		for _, op := range x.Ops {
			if r, ok := op.(RegOp); ok && r.Def && r.Reg >= 0 {
				live.Clear(r.Reg)
			}
		}

		for _, op := range x.Ops {
			if r, ok := op.(RegOp); ok && !r.Def && !r.Undef && r.Reg >= 0 {
				live.Set(r.Reg)
			}
		}
	}

	return live
}
