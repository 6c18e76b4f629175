package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"

	isync "github.com/open-xchange/appsuite-middleware-sub159/internal/sync"
)

// Round files describe what the client reports for one round. Omitted server
// lists are read from the storage snapshot and omitted original lists from
// the state store; an explicit empty list means "nothing".

type directoryRoundFile struct {
	UserID   int                `json:"user_id"`
	Root     string             `json:"root"`
	Client   []directoryVersion `json:"client"`
	Server   []directoryVersion `json:"server"`
	Original []directoryVersion `json:"original"`
}

type fileRoundFile struct {
	UserID  int           `json:"user_id"`
	Folders []folderRound `json:"folders"`
}

type folderRound struct {
	Path     string        `json:"path"`
	Client   []fileVersion `json:"client"`
	Server   []fileVersion `json:"server"`
	Original []fileVersion `json:"original"`
}

type directoryVersion struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

type fileVersion struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

var errEmptyRound = errors.New("round file names nothing to synchronize")

func readDirectoryRound(path string) (*directoryRoundFile, error) {
	var round directoryRoundFile
	if err := decodeRoundFile(path, &round); err != nil {
		return nil, err
	}

	if round.Root == "" {
		round.Root = "/"
	}

	return &round, nil
}

func readFileRound(path string) (*fileRoundFile, error) {
	var round fileRoundFile
	if err := decodeRoundFile(path, &round); err != nil {
		return nil, err
	}

	if len(round.Folders) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyRound)
	}

	for i, f := range round.Folders {
		if f.Path == "" {
			return nil, fmt.Errorf("%s: folders[%d]: missing path", path, i)
		}
	}

	return &round, nil
}

func decodeRoundFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening round file: %w", err)
	}
	defer f.Close()

	if err := decodeRound(f, v); err != nil {
		return fmt.Errorf("reading round file %s: %w", path, err)
	}

	return nil
}

func decodeRound(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}

// toDirectoryVersions converts round-file entries; nil stays nil.
func toDirectoryVersions(in []directoryVersion) []*isync.DirectoryVersion {
	if in == nil {
		return nil
	}

	return lo.Map(in, func(v directoryVersion, _ int) *isync.DirectoryVersion {
		return isync.NewDirectoryVersion(v.Path, v.Checksum)
	})
}

// toFileVersions converts round-file entries of folder; nil stays nil.
func toFileVersions(folder string, in []fileVersion) []*isync.FileVersion {
	if in == nil {
		return nil
	}

	return lo.Map(in, func(v fileVersion, _ int) *isync.FileVersion {
		return isync.NewFileVersion(folder, v.Name, v.Checksum)
	})
}
