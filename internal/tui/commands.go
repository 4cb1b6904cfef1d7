package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/formscout/internal/export"
	"github.com/csheth/formscout/internal/viewer"
	"github.com/csheth/formscout/internal/workspace"
)

func submitJob(ws *workspace.Workspace, path string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		id, err := ws.Submit(ctx, path)
		return submitResultMsg{path: path, documentID: id, err: err}, err
	}
}

func startConversationJob(ws *workspace.Workspace) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		err := ws.StartConversation(ctx)
		return startResultMsg{err: err}, err
	}
}

func sendTurnJob(ws *workspace.Workspace, text string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		err := ws.Send(ctx, text)
		return turnResultMsg{err: err}, err
	}
}

func generateJob(ws *workspace.Workspace, retry bool) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		var (
			artifact export.Artifact
			err      error
		)
		if retry {
			artifact, err = ws.Export.Retry(ctx)
		} else {
			artifact, err = ws.GeneratePDF(ctx)
		}
		return generateResultMsg{artifact: artifact, err: err}, err
	}
}

func downloadJob(ws *workspace.Workspace) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		path, err := ws.Download(ctx)
		return downloadResultMsg{path: path, err: err}, err
	}
}

func historyJob(ws *workspace.Workspace) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		forms, err := ws.History(ctx)
		return historyResultMsg{forms: forms, err: err}, err
	}
}

func pageImageJob(ws *workspace.Workspace, key pageKey) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		path, page, err := ws.PageImage(ctx)
		if err != nil {
			return pageResultMsg{key: key, err: err}, err
		}
		key.page = page
		grid, err := viewer.Load(path, key.width, key.height)
		return pageResultMsg{key: key, grid: grid, err: err}, err
	}
}

func prefetchJob(ws *workspace.Workspace) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		err := ws.Prefetch(ctx)
		return prefetchResultMsg{err: err}, err
	}
}
