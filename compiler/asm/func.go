package asm

import (
	"fmt"

	"golang.org/x/exp/slices"
	"tlog.app/go/errors"
)

type (
	Block struct {
		ID BlockID

		Code  []Instr
		Succs []BlockID

		LiveIns Regs

		// MustEmitLabel is set for blocks whose label is referenced
		// by a low-part relocation and so has to exist in the output.
		MustEmitLabel bool
	}

	// Func is an arena-indexed control-flow graph.
	// Blocks are indexed by BlockID, Layout is the emission order.
	Func struct {
		Name string
		Self *Global

		Blocks []*Block
		Layout []BlockID
	}

	// Rewrite is the result of expanding one instruction.
	//
	// Head replaces the instruction in its block.
	// Each element of Blocks opens a new block placed right after the previous one,
	// linked to it by a single fall-through edge.
	// The instructions following the expanded one move to the end of the last new block,
	// which also takes over the original successors.
	Rewrite struct {
		Head   []Instr
		Blocks [][]Instr
	}
)

func NewFunc(name string, self *Global) *Func {
	return &Func{
		Name: name,
		Self: self,
	}
}

// NewBlock allocates a block at the end of the layout.
func (f *Func) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))}

	f.Blocks = append(f.Blocks, b)
	f.Layout = append(f.Layout, b.ID)

	return b
}

func (f *Func) Block(id BlockID) *Block {
	return f.Blocks[id]
}

func (f *Func) Entry() *Block {
	if len(f.Layout) == 0 {
		return nil
	}

	return f.Blocks[f.Layout[0]]
}

func (f *Func) LayoutIndex(id BlockID) int {
	return slices.Index(f.Layout, id)
}

func (b *Block) AddSucc(id BlockID) {
	for _, s := range b.Succs {
		if s == id {
			return
		}
	}

	b.Succs = append(b.Succs, id)
}

// Split reports whether applying the rewrite creates new blocks.
func (rw Rewrite) Split() bool {
	return len(rw.Blocks) != 0
}

// Apply merges rw into the function in place of instruction at of block id.
// It returns the last block the original tail ended up in.
//
// New blocks are inserted into the layout right after id.
// Live-ins of the new blocks are computed after the tail is moved,
// last block first, so each one sees its final successors.
func (f *Func) Apply(id BlockID, at int, rw Rewrite) (tail BlockID) {
	b := f.Blocks[id]

	if at < 0 || at >= len(b.Code) {
		panic(fmt.Sprintf("rewrite position %d out of block %d of %d instructions", at, id, len(b.Code)))
	}

	rest := b.Code[at+1:]

	code := make([]Instr, 0, at+len(rw.Head)+len(rest))
	code = append(code, b.Code[:at]...)
	code = append(code, resolveAnchors(rw.Head, id)...)

	if !rw.Split() {
		b.Code = append(code, rest...)

		return id
	}

	b.Code = code

	succs := b.Succs
	pos := f.LayoutIndex(id)

	created := make([]*Block, 0, len(rw.Blocks))
	prev := b

	for _, seg := range rw.Blocks {
		nb := &Block{
			ID:            BlockID(len(f.Blocks)),
			MustEmitLabel: true,
		}

		nb.Code = resolveAnchors(seg, nb.ID)

		f.Blocks = append(f.Blocks, nb)

		pos++
		f.Layout = slices.Insert(f.Layout, pos, nb.ID)

		prev.Succs = []BlockID{nb.ID}
		prev = nb

		created = append(created, nb)
	}

	prev.Code = append(prev.Code, rest...)
	prev.Succs = succs

	for i := len(created) - 1; i >= 0; i-- {
		f.ComputeLiveIns(created[i].ID)
	}

	return prev.ID
}

func resolveAnchors(code []Instr, id BlockID) []Instr {
	r := make([]Instr, len(code))

	for i, x := range code {
		cloned := false

		for j, op := range x.Ops {
			a, ok := op.(Anchor)
			if !ok {
				continue
			}

			if !cloned {
				x = x.Clone()
				cloned = true
			}

			x.Ops[j] = BlockOp{Block: id, Flags: a.Flags}
		}

		r[i] = x
	}

	return r
}

// Verify checks the control-flow graph invariants.
func (f *Func) Verify() error {
	seen := make([]bool, len(f.Blocks))

	for _, id := range f.Layout {
		if id < 0 || int(id) >= len(f.Blocks) {
			return errors.New("layout refers to missing block %d", id)
		}

		if seen[id] {
			return errors.New("block %d is laid out twice", id)
		}

		seen[id] = true
	}

	for id, b := range f.Blocks {
		if !seen[id] {
			return errors.New("block %d is not laid out", id)
		}

		if b.ID != BlockID(id) {
			return errors.New("block %d has id %d", id, b.ID)
		}

		for i, s := range b.Succs {
			if s < 0 || int(s) >= len(f.Blocks) {
				return errors.New("block %d: successor %d does not exist", id, s)
			}

			for _, s2 := range b.Succs[:i] {
				if s2 == s {
					return errors.New("block %d: duplicate successor %d", id, s)
				}
			}
		}

		for i, x := range b.Code {
			for _, op := range x.Ops {
				if _, ok := op.(Anchor); ok {
					return errors.New("block %d: instruction %d: unresolved anchor", id, i)
				}
			}
		}
	}

	return nil
}
