package repo

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type walkFrame struct {
	rev     *Revision
	parents []*Revision // ascending committer time
	next    int
}

func (r *Repository) frame(rev *Revision) (*walkFrame, error) {
	f := &walkFrame{rev: rev, parents: make([]*Revision, 0, len(rev.Parents))}
	for _, h := range rev.Parents {
		p, err := r.Revision(h)
		if err != nil {
			return nil, err
		}
		f.parents = append(f.parents, p)
	}
	sort.SliceStable(f.parents, func(i, j int) bool {
		return f.parents[i].When.Before(f.parents[j].When)
	})
	return f, nil
}

// Commits returns the ancestry of start, start included, newest first:
// every revision comes before all of its parents.  Sibling subtrees are
// explored in ascending committer time of the parent.  An empty start means
// HEAD.
//
// The traversal is an iterative post-order depth first search, so history
// depth is not limited by the goroutine stack.  Results are memoized per
// start revision; callers must not modify the returned slice.
func (r *Repository) Commits(start Hash) ([]*Revision, error) {
	if start == "" {
		h, err := r.Head()
		if err != nil {
			return nil, err
		}
		start = h
	}
	key := topoKey{r.Path, start}
	if res, ok := r.cache.topo[key]; ok {
		return res, nil
	}

	first, err := r.Revision(start)
	if err != nil {
		return nil, err
	}
	f, err := r.frame(first)
	if err != nil {
		return nil, err
	}

	visited := map[Hash]bool{}
	var order []*Revision
	work := []*walkFrame{f}
	for len(work) > 0 {
		f := work[len(work)-1]
		visited[f.rev.Hash] = true

		var next *Revision
		for f.next < len(f.parents) {
			p := f.parents[f.next]
			f.next++
			if !visited[p.Hash] {
				next = p
				break
			}
		}
		if next == nil {
			// all parents done
			work = work[:len(work)-1]
			order = append(order, f.rev)
			continue
		}
		nf, err := r.frame(next)
		if err != nil {
			return nil, err
		}
		work = append(work, nf)
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	r.cache.topo[key] = order
	return order, nil
}

// Walk calls fn for each revision of Commits(start) in order until fn
// returns false.
func (r *Repository) Walk(start Hash, fn func(*Revision) (bool, error)) error {
	revs, err := r.Commits(start)
	if err != nil {
		return err
	}
	for _, rev := range revs {
		more, err := fn(rev)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (r *Repository) tagIndex() (map[Hash][]Tag, error) {
	if r.tags != nil {
		return r.tags, nil
	}
	list, err := r.backend.Tags()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: listing tags", r.Name)
	}
	idx := map[Hash][]Tag{}
	for _, t := range list {
		idx[t.Target] = append(idx[t.Target], t)
	}
	r.tags = idx
	return idx, nil
}

// Tagged returns the tag bound to revision h, or nil if there is none.  An
// empty h means HEAD.  More than one tag on the revision is an
// ErrAmbiguousTag.
func (r *Repository) Tagged(h Hash) (*Tag, error) {
	if h == "" {
		head, err := r.Head()
		if err != nil {
			return nil, err
		}
		h = head
	}
	idx, err := r.tagIndex()
	if err != nil {
		return nil, err
	}
	tt := idx[h]
	switch len(tt) {
	case 0:
		return nil, nil
	case 1:
		t := tt[0]
		return &t, nil
	}
	names := make([]string, len(tt))
	for i, t := range tt {
		names[i] = t.Name
	}
	sort.Strings(names)
	return nil, errors.Wrapf(ErrAmbiguousTag, "%s: revision %s has tags %s",
		r.Name, h.Short(), strings.Join(names, ", "))
}

// NearestTag returns the first tagged revision in Commits(start) order along
// with its tag.  ErrNoTag means the whole history is untagged.
func (r *Repository) NearestTag(start Hash) (*Tag, *Revision, error) {
	var (
		tag *Tag
		at  *Revision
	)
	err := r.Walk(start, func(rev *Revision) (bool, error) {
		t, err := r.Tagged(rev.Hash)
		if err != nil {
			return false, err
		}
		if t == nil {
			return true, nil
		}
		tag, at = t, rev
		return false, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if tag == nil {
		return nil, nil, errors.Wrapf(ErrNoTag, "%s", r.Name)
	}
	return tag, at, nil
}
