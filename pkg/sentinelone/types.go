// Package sentinelone pkg/sentinelone/types.go
package sentinelone

import "time"

const (
	// MaxPageSize is the largest page the upstream accepts.
	MaxPageSize     = 200
	DefaultPageSize = MaxPageSize
)

// Site is an upstream tenant unit.
type Site struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	State          string `json:"state,omitempty"`
	AccountName    string `json:"account_name,omitempty"`
	ActiveLicenses int    `json:"active_licenses"`
}

// Agent is a validated upstream endpoint record.
type Agent struct {
	ID             string
	ComputerName   string
	SiteID         string
	OSName         string
	OSRevision     string
	IsActive       bool
	IsUpToDate     bool
	Infected       bool
	ActiveThreats  int
	LastActiveDate *time.Time
	ExternalIP     string
	LastIPToMgmt   string
}

// Risk is one validated CVE row: a vulnerable application on one endpoint.
type Risk struct {
	CVEID              string
	EndpointID         string
	EndpointName       string
	SiteID             string
	Severity           string
	BaseScore          *float64
	Description        string
	ApplicationName    string
	ApplicationVersion string
	PublishedDate      *time.Time
}

// Page is one decoded upstream page. Rows that failed validation are
// reported in Invalid next to the valid Items.
type Page[T any] struct {
	Items      []T
	Invalid    []*ParseError
	NextCursor string
	TotalItems int
}

// SiteFilter narrows ListSites.
type SiteFilter struct {
	State    string
	PageSize int
}

// AgentFilter narrows ListAgents. IsActive is sent only when set.
type AgentFilter struct {
	SiteIDs   []string
	IDs       []string
	IsActive  *bool
	SortBy    string
	SortOrder string
	PageSize  int
}

// RiskFilter narrows ListRisks.
type RiskFilter struct {
	SiteIDs  []string
	PageSize int
}

type pagination struct {
	NextCursor *string `json:"nextCursor"`
	TotalItems int     `json:"totalItems"`
}

type wireSite struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	State          string `json:"state"`
	AccountName    string `json:"accountName"`
	ActiveLicenses int    `json:"activeLicenses"`
}

type wireAgent struct {
	ID             string `json:"id"`
	ComputerName   string `json:"computerName"`
	SiteID         string `json:"siteId"`
	OSName         string `json:"osName"`
	OSRevision     string `json:"osRevision"`
	IsActive       bool   `json:"isActive"`
	IsUpToDate     bool   `json:"isUpToDate"`
	Infected       bool   `json:"infected"`
	ActiveThreats  int    `json:"activeThreats"`
	LastActiveDate string `json:"lastActiveDate"`
	ExternalIP     string `json:"externalIp"`
	LastIPToMgmt   string `json:"lastIpToMgmt"`
}

type wireRisk struct {
	CVEID              string   `json:"cveId"`
	EndpointID         string   `json:"endpointId"`
	EndpointName       string   `json:"endpointName"`
	SiteID             string   `json:"siteId"`
	Severity           string   `json:"severity"`
	BaseScore          *float64 `json:"baseScore"`
	Description        string   `json:"description"`
	ApplicationName    string   `json:"application"`
	ApplicationVersion string   `json:"applicationVersion"`
	PublishedDate      string   `json:"publishedDate"`
}
