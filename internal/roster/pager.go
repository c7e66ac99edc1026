package roster

import "classroll/internal/attendance"

const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// Pager slices a roster into fixed-size display pages.
type Pager struct {
	size int
	page int
}

// NewPager creates a pager on the first page.
func NewPager(size int) *Pager {
	if size < 1 {
		size = DefaultPageSize
	}
	return &Pager{size: size, page: DefaultPage}
}

func (p *Pager) Size() int { return p.size }

// Current is the 1-based page index.
func (p *Pager) Current() int { return p.page }

// Reset returns to the first page.
func (p *Pager) Reset() { p.page = DefaultPage }

// PageCount is ceil(total/size), never below 1.
func (p *Pager) PageCount(total int) int {
	if total <= 0 {
		return 1
	}
	return (total + p.size - 1) / p.size
}

// SetPage moves to page n clamped to [1, PageCount(total)].
func (p *Pager) SetPage(n, total int) int {
	if n < DefaultPage {
		n = DefaultPage
	}
	if last := p.PageCount(total); n > last {
		n = last
	}
	p.page = n
	return n
}

// Slice returns the students on the current page.
func (p *Pager) Slice(students []attendance.Student) []attendance.Student {
	page := p.SetPage(p.page, len(students))
	start := (page - 1) * p.size
	if start >= len(students) {
		return nil
	}
	end := start + p.size
	if end > len(students) {
		end = len(students)
	}
	return students[start:end]
}
