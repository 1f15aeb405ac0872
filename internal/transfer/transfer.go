// internal/transfer/transfer.go

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/sftp"

	apperr "devpulse/internal/error"
	"devpulse/internal/ssh"
	"devpulse/internal/utils"
)

const bufSize = 128 * 1024

var ErrNoClient = errors.New("transport does not support file transfer")

// Progress is sent on the optional progress channel during a copy.
type Progress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// ProgressReader counts bytes read and reports them without blocking.
type ProgressReader struct {
	io.Reader
	Progress     *Progress
	ProgressChan chan<- Progress
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Progress.TransferredBytes += int64(n)
		notify(pr.ProgressChan, *pr.Progress)
	}
	return n, err
}

func notify(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// Transfer copies files over registered sessions, preferring sftp and
// falling back to scp when the server has no sftp subsystem.
type Transfer struct {
	registry *ssh.Registry
}

func New(r *ssh.Registry) *Transfer {
	return &Transfer{registry: r}
}

// RemoteTarget resolves remotePath for localPath: a trailing slash means
// "into this directory".
func RemoteTarget(localPath, remotePath string) string {
	remotePath = utils.ToSFTPPath(remotePath)
	if remotePath == "" || strings.HasSuffix(remotePath, "/") {
		return path.Join(remotePath, filepath.Base(localPath))
	}
	return remotePath
}

// Upload copies localPath to remotePath on session id.
func (t *Transfer) Upload(ctx context.Context, id, localPath, remotePath string, progress chan<- Progress) error {
	remotePath = RemoteTarget(localPath, remotePath)
	return t.registry.With(id, func(s *ssh.Session) error {
		client := s.Client()
		if client == nil {
			return apperr.New(apperr.SessionError, "upload", ErrNoClient)
		}
		sc, err := sftp.NewClient(client)
		if err != nil {
			log.Debug("sftp unavailable, using scp", "id", id, "err", err)
			return scpUpload(ctx, client, localPath, remotePath, progress)
		}
		defer sc.Close()
		return sftpUpload(sc, localPath, remotePath, progress)
	})
}

// Download copies remotePath on session id to localPath.
func (t *Transfer) Download(ctx context.Context, id, remotePath, localPath string, progress chan<- Progress) error {
	remotePath = utils.ToSFTPPath(remotePath)
	if st, err := os.Stat(localPath); err == nil && st.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}
	return t.registry.With(id, func(s *ssh.Session) error {
		client := s.Client()
		if client == nil {
			return apperr.New(apperr.SessionError, "download", ErrNoClient)
		}
		sc, err := sftp.NewClient(client)
		if err != nil {
			log.Debug("sftp unavailable, using scp", "id", id, "err", err)
			return scpDownload(ctx, client, remotePath, localPath, progress)
		}
		defer sc.Close()
		return sftpDownload(sc, remotePath, localPath, progress)
	})
}

// List returns the entries of a remote directory.
func (t *Transfer) List(id, remoteDir string) ([]os.FileInfo, error) {
	var entries []os.FileInfo
	err := t.registry.With(id, func(s *ssh.Session) error {
		client := s.Client()
		if client == nil {
			return apperr.New(apperr.SessionError, "list", ErrNoClient)
		}
		sc, err := sftp.NewClient(client)
		if err != nil {
			return apperr.New(apperr.ProtocolError, "failed to create SFTP client", err)
		}
		defer sc.Close()
		entries, err = sc.ReadDir(utils.ToSFTPPath(remoteDir))
		if err != nil {
			return apperr.New(apperr.FileError, fmt.Sprintf("failed to list %s", remoteDir), err)
		}
		return nil
	})
	return entries, err
}

func sftpUpload(sc *sftp.Client, localPath, remotePath string, progressChan chan<- Progress) error {
	src, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return apperr.New(apperr.FileError, "failed to create remote directory", err)
		}
	}
	dst, err := sc.Create(remotePath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create remote file", err)
	}
	defer dst.Close()

	progress := Progress{FileName: filepath.Base(localPath), TotalBytes: info.Size(), StartTime: time.Now()}
	reader := &ProgressReader{Reader: src, Progress: &progress, ProgressChan: progressChan}
	if _, err := io.CopyBuffer(dst, reader, make([]byte, bufSize)); err != nil {
		return apperr.New(apperr.IOError, "error writing remote file", err)
	}
	if err := dst.Chmod(info.Mode().Perm()); err != nil {
		log.Debug("could not set remote file mode", "path", remotePath, "err", err)
	}
	notify(progressChan, progress)
	log.Info("uploaded", "file", localPath, "remote", remotePath, "bytes", progress.TransferredBytes)
	return nil
}

func sftpDownload(sc *sftp.Client, remotePath, localPath string, progressChan chan<- Progress) error {
	src, err := sc.Open(remotePath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open remote file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create local file", err)
	}
	defer dst.Close()

	progress := Progress{FileName: path.Base(remotePath), TotalBytes: info.Size(), StartTime: time.Now()}
	reader := &ProgressReader{Reader: src, Progress: &progress, ProgressChan: progressChan}
	if _, err := io.CopyBuffer(dst, reader, make([]byte, bufSize)); err != nil {
		return apperr.New(apperr.IOError, "error reading remote file", err)
	}
	if err := dst.Sync(); err != nil {
		return apperr.New(apperr.FileError, "failed to sync local file", err)
	}
	notify(progressChan, progress)
	log.Info("downloaded", "remote", remotePath, "file", localPath, "bytes", progress.TransferredBytes)
	return nil
}
