// Package github provides a GitHub tool covering repository reads, file
// creation, issue creation, and repository creation.
package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/steward-labs/steward/engine/tool"
)

const toolName = "github"

// api is the slice of the GitHub client the tool uses, extracted for tests.
type api interface {
	GetRepo(ctx context.Context, owner, repo string) (*gh.Repository, error)
	GetContents(ctx context.Context, owner, repo, path string) (*gh.RepositoryContent, error)
	CreateFile(ctx context.Context, owner, repo, path, message, content string) (string, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string) (int, string, error)
	CreateRepo(ctx context.Context, name, description string, private bool) (string, error)
}

// Tool performs GitHub actions through an authenticated client.
type Tool struct {
	client api
}

// New creates a GitHub tool. The token must have repo scope for write
// actions.
func New(ctx context.Context, token string) (*Tool, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &Tool{client: &restAPI{client: gh.NewClient(tc)}}, nil
}

// NewWithAPI creates a GitHub tool over a custom API implementation.
func NewWithAPI(client api) *Tool {
	return &Tool{client: client}
}

func (t *Tool) Name() string { return toolName }

func (t *Tool) Description() string {
	return "Interact with GitHub: read repository metadata and files, create files, issues, and repositories."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"read", "create_file", "create_issue", "create_repo"},
			},
			"owner":       map[string]any{"type": "string"},
			"repo":        map[string]any{"type": "string"},
			"path":        map[string]any{"type": "string"},
			"content":     map[string]any{"type": "string"},
			"message":     map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string"},
			"body":        map[string]any{"type": "string"},
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"private":     map[string]any{"type": "boolean"},
		},
		"required": []string{"action"},
	}
}

func (t *Tool) RiskHints() tool.RiskHints {
	return tool.RiskHints{
		HighRiskActions: []string{"create_repo"},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	action, err := tool.StringParam(params, "action")
	if err != nil {
		return tool.Fail("%v", err), nil
	}

	res := tool.Timed(func() *tool.Result {
		switch action {
		case "read":
			return t.read(ctx, params)
		case "create_file":
			return t.createFile(ctx, params)
		case "create_issue":
			return t.createIssue(ctx, params)
		case "create_repo":
			return t.createRepo(ctx, params)
		default:
			return tool.Fail("unknown action: %s", action)
		}
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, nil
}

func (t *Tool) read(ctx context.Context, params map[string]any) *tool.Result {
	owner, err := tool.StringParam(params, "owner")
	if err != nil {
		return tool.Fail("%v", err)
	}
	repo, err := tool.StringParam(params, "repo")
	if err != nil {
		return tool.Fail("%v", err)
	}

	// With a path, read file content; without, read repository metadata.
	if path := tool.OptionalString(params, "path", ""); path != "" {
		content, err := t.client.GetContents(ctx, owner, repo, path)
		if err != nil {
			return tool.Fail("read %s/%s:%s: %v", owner, repo, path, err)
		}
		text, err := content.GetContent()
		if err != nil {
			return tool.Fail("decode %s/%s:%s: %v", owner, repo, path, err)
		}
		return tool.Ok(text)
	}

	r, err := t.client.GetRepo(ctx, owner, repo)
	if err != nil {
		return tool.Fail("read %s/%s: %v", owner, repo, err)
	}
	return tool.Ok(map[string]any{
		"full_name":      r.GetFullName(),
		"description":    r.GetDescription(),
		"default_branch": r.GetDefaultBranch(),
		"private":        r.GetPrivate(),
		"open_issues":    r.GetOpenIssuesCount(),
		"stars":          r.GetStargazersCount(),
	})
}

func (t *Tool) createFile(ctx context.Context, params map[string]any) *tool.Result {
	owner, err := tool.StringParam(params, "owner")
	if err != nil {
		return tool.Fail("%v", err)
	}
	repo, err := tool.StringParam(params, "repo")
	if err != nil {
		return tool.Fail("%v", err)
	}
	path, err := tool.StringParam(params, "path")
	if err != nil {
		return tool.Fail("%v", err)
	}
	content := tool.OptionalString(params, "content", "")
	message := tool.OptionalString(params, "message", "Add "+path)

	sha, err := t.client.CreateFile(ctx, owner, repo, path, message, content)
	if err != nil {
		return tool.Fail("create file %s/%s:%s: %v", owner, repo, path, err)
	}
	return tool.Ok(map[string]any{"path": path, "commit_sha": sha})
}

func (t *Tool) createIssue(ctx context.Context, params map[string]any) *tool.Result {
	owner, err := tool.StringParam(params, "owner")
	if err != nil {
		return tool.Fail("%v", err)
	}
	repo, err := tool.StringParam(params, "repo")
	if err != nil {
		return tool.Fail("%v", err)
	}
	title, err := tool.StringParam(params, "title")
	if err != nil {
		return tool.Fail("%v", err)
	}
	body := tool.OptionalString(params, "body", "")

	number, url, err := t.client.CreateIssue(ctx, owner, repo, title, body)
	if err != nil {
		return tool.Fail("create issue in %s/%s: %v", owner, repo, err)
	}
	return tool.Ok(map[string]any{"number": number, "url": url})
}

func (t *Tool) createRepo(ctx context.Context, params map[string]any) *tool.Result {
	name, err := tool.StringParam(params, "name")
	if err != nil {
		return tool.Fail("%v", err)
	}
	description := tool.OptionalString(params, "description", "")
	private, _ := params["private"].(bool)

	url, err := t.client.CreateRepo(ctx, name, description, private)
	if err != nil {
		return tool.Fail("create repo %s: %v", name, err)
	}
	return tool.Ok(map[string]any{"name": name, "url": url})
}

// =============================================================================
// REST binding
// =============================================================================

type restAPI struct {
	client *gh.Client
}

func (a *restAPI) GetRepo(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	r, _, err := a.client.Repositories.Get(ctx, owner, repo)
	return r, err
}

func (a *restAPI) GetContents(ctx context.Context, owner, repo, path string) (*gh.RepositoryContent, error) {
	content, _, _, err := a.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	return content, nil
}

func (a *restAPI) CreateFile(ctx context.Context, owner, repo, path, message, content string) (string, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(content),
	}
	resp, _, err := a.client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	if err != nil {
		return "", err
	}
	return resp.GetSHA(), nil
}

func (a *restAPI) CreateIssue(ctx context.Context, owner, repo, title, body string) (int, string, error) {
	issue, _, err := a.client.Issues.Create(ctx, owner, repo, &gh.IssueRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
	})
	if err != nil {
		return 0, "", err
	}
	return issue.GetNumber(), issue.GetHTMLURL(), nil
}

func (a *restAPI) CreateRepo(ctx context.Context, name, description string, private bool) (string, error) {
	repo, _, err := a.client.Repositories.Create(ctx, "", &gh.Repository{
		Name:        gh.String(name),
		Description: gh.String(description),
		Private:     gh.Bool(private),
	})
	if err != nil {
		return "", err
	}
	return repo.GetHTMLURL(), nil
}
