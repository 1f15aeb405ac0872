package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	apperr "devpulse/internal/error"
)

func progressPassThru(name string, progress *Progress, ch chan<- Progress) scp.PassThru {
	return func(r io.Reader, total int64) io.Reader {
		progress.FileName = name
		progress.TotalBytes = total
		return &ProgressReader{Reader: r, Progress: progress, ProgressChan: ch}
	}
}

func scpUpload(ctx context.Context, client *ssh.Client, localPath, remotePath string, progressChan chan<- Progress) error {
	c, err := scp.NewClientBySSH(client)
	if err != nil {
		return apperr.New(apperr.ProtocolError, "failed to create scp client", err)
	}
	defer c.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	progress := Progress{StartTime: time.Now()}
	perm := fmt.Sprintf("%#o", info.Mode().Perm())
	pass := progressPassThru(filepath.Base(localPath), &progress, progressChan)
	if err := c.CopyFromFilePassThru(ctx, *f, remotePath, perm, pass); err != nil {
		return apperr.New(apperr.IOError, "scp upload failed", err)
	}
	notify(progressChan, progress)
	return nil
}

func scpDownload(ctx context.Context, client *ssh.Client, remotePath, localPath string, progressChan chan<- Progress) error {
	c, err := scp.NewClientBySSH(client)
	if err != nil {
		return apperr.New(apperr.ProtocolError, "failed to create scp client", err)
	}
	defer c.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create local file", err)
	}
	defer f.Close()

	progress := Progress{StartTime: time.Now()}
	pass := progressPassThru(path.Base(remotePath), &progress, progressChan)
	if err := c.CopyFromRemotePassThru(ctx, f, remotePath, pass); err != nil {
		return apperr.New(apperr.IOError, "scp download failed", err)
	}
	notify(progressChan, progress)
	return nil
}
