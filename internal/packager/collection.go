package packager

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Collection writes every card into a ZIP archive at maximum
// compression, as "<BaseName>/<identifier>.png" in identifier order.
func Collection(ctx context.Context, in Input, w io.Writer) error {
	if len(in.Items) == 0 {
		return &Error{Op: "collection", Err: ErrNoItems}
	}
	if err := checkDuplicates(in.Items); err != nil {
		return &Error{Op: "collection", Err: err}
	}
	folder := BaseName(in.ZoneName, in.Range)
	archive := zip.NewWriter(w)
	archive.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, item := range sortedItems(in.Items) {
		if err := ctx.Err(); err != nil {
			_ = archive.Close()
			return &Error{Op: "collection", Err: err}
		}
		name, err := entryName(folder, item.Identifier)
		if err != nil {
			_ = archive.Close()
			return &Error{Op: "collection", Err: err}
		}
		if err := addFile(archive, name, item.Path, in); err != nil {
			_ = archive.Close()
			return &Error{Op: "collection", Err: err}
		}
	}
	if err := archive.Close(); err != nil {
		return &Error{Op: "collection", Err: err}
	}
	return nil
}

// entryName places an identifier's card directly under folder. Names
// that would land anywhere else on extraction are refused.
func entryName(folder, identifier string) (string, error) {
	file := identifier + ".png"
	if strings.ContainsAny(identifier, `/\`) || identifier == "" || identifier == "." || identifier == ".." {
		return "", fmt.Errorf("identifier %q is not a plain file name", identifier)
	}
	name := path.Join(folder, file)
	if !fs.ValidPath(name) || path.Dir(name) != folder {
		return "", fmt.Errorf("archive entry %q escapes %q", name, folder)
	}
	return name, nil
}

func addFile(archive *zip.Writer, name, source string, in Input) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !in.CreatedAt.IsZero() {
		header.Modified = in.CreatedAt
	}
	entry, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, file)
	return err
}
