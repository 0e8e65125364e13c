package azdo

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// HostKind classifies where an organization is hosted.
type HostKind string

const (
	HostModern HostKind = "dev.azure.com"    // https://dev.azure.com/{org}
	HostLegacy HostKind = "visualstudio.com" // https://{org}.visualstudio.com
	HostOnPrem HostKind = "onprem"           // https://{server}/{collection}
)

// ResourceInfo is the decomposition of a user-entered definition URL.
type ResourceInfo struct {
	Host            HostKind
	OrganizationURL string // canonical org/collection URL, no trailing slash
	Organization    string // org or collection name
	Project         string
	// SubResource is the remainder after the project segment, e.g.
	// "_queries/query/{guid}" or "_build?definitionId=12". Empty when the
	// URL stops at the project.
	SubResource string
	// QueryID and DefinitionID are populated when SubResource identifies a
	// saved query or a pipeline definition.
	QueryID      string
	DefinitionID int64
	// RepositoryName is populated for pull request URLs (_git/{repo}).
	RepositoryName string
}

// ParseResourceURL decomposes a definition URL into its host kind,
// organization, project, and optional sub-resource. It fails with a wrapped
// description on anything it cannot interpret; callers map that to their
// validation error.
func ParseResourceURL(raw string) (*ResourceInfo, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	segments := splitPath(u.Path)

	info := &ResourceInfo{}
	switch {
	case host == "dev.azure.com":
		if len(segments) < 1 {
			return nil, fmt.Errorf("missing organization in %q", raw)
		}
		info.Host = HostModern
		info.Organization = segments[0]
		info.OrganizationURL = "https://dev.azure.com/" + segments[0]
		segments = segments[1:]
	case strings.HasSuffix(host, ".visualstudio.com"):
		info.Host = HostLegacy
		info.Organization = strings.TrimSuffix(host, ".visualstudio.com")
		info.OrganizationURL = "https://" + host
	default:
		// On-prem: first segment is the collection.
		if len(segments) < 1 {
			return nil, fmt.Errorf("missing collection in %q", raw)
		}
		info.Host = HostOnPrem
		info.Organization = segments[0]
		info.OrganizationURL = u.Scheme + "://" + u.Host + "/" + segments[0]
		segments = segments[1:]
	}

	if len(segments) < 1 {
		return nil, fmt.Errorf("missing project in %q", raw)
	}
	project, err := url.PathUnescape(segments[0])
	if err != nil {
		project = segments[0]
	}
	info.Project = project
	segments = segments[1:]

	if len(segments) > 0 {
		info.SubResource = strings.Join(segments, "/")
		if u.RawQuery != "" {
			info.SubResource += "?" + u.RawQuery
		}
	}

	// Recognize the sub-resources the search kinds care about.
	switch {
	case len(segments) >= 3 && segments[0] == "_queries" && segments[1] == "query":
		id, err := uuid.Parse(segments[2])
		if err != nil {
			return nil, fmt.Errorf("bad query id %q: %w", segments[2], err)
		}
		info.QueryID = id.String()
	case len(segments) >= 2 && segments[0] == "_git":
		name, err := url.PathUnescape(segments[1])
		if err != nil {
			name = segments[1]
		}
		info.RepositoryName = name
	case len(segments) >= 1 && segments[0] == "_build":
		if id := u.Query().Get("definitionId"); id != "" {
			if _, err := fmt.Sscanf(id, "%d", &info.DefinitionID); err != nil {
				return nil, fmt.Errorf("bad definitionId %q", id)
			}
		}
	}

	return info, nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
