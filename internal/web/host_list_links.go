package web

import (
	"fmt"
	"net/url"
	"strings"
)

func buildHostListLink(filters hostListFilters, page int) string {
	values := make([]string, 0, 8)
	if filters.Name != "" {
		values = append(values, "name="+url.QueryEscape(filters.Name))
	}
	if filters.Origin != "" {
		values = append(values, "origin="+url.QueryEscape(filters.Origin))
	}
	if filters.Group != "" {
		values = append(values, "group="+url.QueryEscape(filters.Group))
	}
	if filters.Subnet != "" {
		values = append(values, "subnet="+url.QueryEscape(filters.Subnet))
	}
	if filters.Sort != "" {
		values = append(values, "sort="+url.QueryEscape(filters.Sort))
	}
	if filters.Dir != "" {
		values = append(values, "dir="+url.QueryEscape(filters.Dir))
	}
	values = append(values, fmt.Sprintf("page=%d", page))
	if filters.Size != "" {
		values = append(values, "page_size="+url.QueryEscape(filters.Size))
	}
	return "/hosts?" + strings.Join(values, "&")
}

func hostLink(hostID int64, notice string) string {
	if notice == "" {
		return fmt.Sprintf("/hosts/%d", hostID)
	}
	return fmt.Sprintf("/hosts/%d?notice=%s", hostID, url.QueryEscape(notice))
}
