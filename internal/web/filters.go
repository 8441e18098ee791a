package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sloppy/hostlink/internal/db"
)

type hostListFilters struct {
	Name   string
	Origin string
	Group  string
	Subnet string
	Sort   string
	Dir    string
	Page   string
	Size   string
}

type hostPager struct {
	Page     int
	LastPage int
	PrevURL  string
	NextURL  string
	HasPrev  bool
	HasNext  bool
	Show     bool
}

func parseInt(value string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseHostListFilters(r *http.Request) hostListFilters {
	query := r.URL.Query()
	return hostListFilters{
		Name:   strings.TrimSpace(query.Get("name")),
		Origin: strings.TrimSpace(query.Get("origin")),
		Group:  strings.TrimSpace(query.Get("group")),
		Subnet: strings.TrimSpace(query.Get("subnet")),
		Sort:   normalizeSort(strings.TrimSpace(query.Get("sort"))),
		Dir:    normalizeDir(strings.TrimSpace(query.Get("dir"))),
		Page:   strings.TrimSpace(query.Get("page")),
		Size:   strings.TrimSpace(query.Get("page_size")),
	}
}

// dbFilter converts the query filters into a store filter for one page.
func (f hostListFilters) dbFilter() (db.HostFilter, error) {
	switch f.Origin {
	case "", "manual", "discovered":
	default:
		return db.HostFilter{}, fmt.Errorf("invalid origin filter %q", f.Origin)
	}
	page, size := parsePagination(f.Page, f.Size)
	return db.HostFilter{
		Name:    f.Name,
		Origin:  f.Origin,
		Group:   f.Group,
		Subnet:  f.Subnet,
		SortBy:  f.Sort,
		SortDir: f.Dir,
		Limit:   size,
		Offset:  (page - 1) * size,
	}, nil
}

func normalizeSort(raw string) string {
	switch raw {
	case "name", "ip", "templates", "origin":
		return raw
	default:
		return "name"
	}
}

func normalizeDir(raw string) string {
	switch strings.ToLower(raw) {
	case "desc":
		return "desc"
	default:
		return "asc"
	}
}

func parsePagination(pageRaw, sizeRaw string) (int, int) {
	page := 1
	size := 50
	if val, err := strconv.Atoi(strings.TrimSpace(pageRaw)); err == nil && val > 0 {
		page = val
	}
	if val, err := strconv.Atoi(strings.TrimSpace(sizeRaw)); err == nil && val > 0 && val <= 500 {
		size = val
	}
	return page, size
}

func buildHostPager(filters hostListFilters, total int) hostPager {
	if total <= 0 {
		return hostPager{}
	}
	page := parseInt(filters.Page, 1)
	size := parseInt(filters.Size, 50)
	lastPage := (total + size - 1) / size
	if lastPage < 1 {
		lastPage = 1
	}
	if page > lastPage {
		page = lastPage
	}
	pager := hostPager{
		Page:     page,
		LastPage: lastPage,
		Show:     lastPage > 1,
	}
	if page > 1 {
		pager.HasPrev = true
		pager.PrevURL = buildHostListLink(filters, page-1)
	}
	if page < lastPage {
		pager.HasNext = true
		pager.NextURL = buildHostListLink(filters, page+1)
	}
	return pager
}

func parseID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
