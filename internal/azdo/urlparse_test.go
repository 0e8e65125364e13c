package azdo

import "testing"

func TestParseResourceURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ResourceInfo
	}{
		{
			name: "modern query url",
			raw:  "https://dev.azure.com/contoso/Tools/_queries/query/3c8d3191-7060-4123-9bb7-4b1de4a83301",
			want: ResourceInfo{
				Host:            HostModern,
				OrganizationURL: "https://dev.azure.com/contoso",
				Organization:    "contoso",
				Project:         "Tools",
				QueryID:         "3c8d3191-7060-4123-9bb7-4b1de4a83301",
			},
		},
		{
			name: "legacy host",
			raw:  "https://contoso.visualstudio.com/Tools/_git/tools-repo",
			want: ResourceInfo{
				Host:            HostLegacy,
				OrganizationURL: "https://contoso.visualstudio.com",
				Organization:    "contoso",
				Project:         "Tools",
				RepositoryName:  "tools-repo",
			},
		},
		{
			name: "on-prem collection",
			raw:  "https://tfs.corp.local/DefaultCollection/Tools/_build?definitionId=42",
			want: ResourceInfo{
				Host:            HostOnPrem,
				OrganizationURL: "https://tfs.corp.local/DefaultCollection",
				Organization:    "DefaultCollection",
				Project:         "Tools",
				DefinitionID:    42,
			},
		},
		{
			name: "project only",
			raw:  "https://dev.azure.com/contoso/Tools",
			want: ResourceInfo{
				Host:            HostModern,
				OrganizationURL: "https://dev.azure.com/contoso",
				Organization:    "contoso",
				Project:         "Tools",
			},
		},
		{
			name: "escaped project name",
			raw:  "https://dev.azure.com/contoso/My%20Project/_git/repo",
			want: ResourceInfo{
				Host:            HostModern,
				OrganizationURL: "https://dev.azure.com/contoso",
				Organization:    "contoso",
				Project:         "My Project",
				RepositoryName:  "repo",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResourceURL(tt.raw)
			if err != nil {
				t.Fatalf("ParseResourceURL(%q): %v", tt.raw, err)
			}
			if got.Host != tt.want.Host ||
				got.OrganizationURL != tt.want.OrganizationURL ||
				got.Organization != tt.want.Organization ||
				got.Project != tt.want.Project ||
				got.QueryID != tt.want.QueryID ||
				got.DefinitionID != tt.want.DefinitionID ||
				got.RepositoryName != tt.want.RepositoryName {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseResourceURLRejectsBadInput(t *testing.T) {
	for _, raw := range []string{
		"",
		"ftp://dev.azure.com/contoso/Tools",
		"https://dev.azure.com",
		"https://dev.azure.com/contoso",
		"https://tfs.corp.local",
		"https://dev.azure.com/contoso/Tools/_queries/query/not-a-guid",
	} {
		if _, err := ParseResourceURL(raw); err == nil {
			t.Errorf("ParseResourceURL(%q) succeeded, want error", raw)
		}
	}
}
