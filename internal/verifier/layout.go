package verifier

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// On-disk layout names. These are the interop contract of §6.1.
const (
	ManifestFile = "manifest.json"
	SigDir       = "sig"
	SigFile      = "sig/manifest.sig"
	PubKeyFile   = "sig/publisher.pub"
	ContentDir   = "content"
	GraphDir     = "graph"
	EvidenceDir  = "evidence"
	ExtDir       = "ext"

	// TableExt is the columnar file extension this implementation commits
	// to, the same across all tables in one shard.
	TableExt = ".axt"

	EntitiesFile   = "graph/entities" + TableExt
	ClaimsFile     = "graph/claims" + TableExt
	ProvenanceFile = "graph/provenance" + TableExt
	SpansFile      = "evidence/spans" + TableExt
)

// checkLayout enforces the shard directory contract: required entries
// present, only permitted entries at the root, the exact file pair under
// sig/, only tables under graph/ and evidence/, and no symbolic link
// anywhere in the tree.
func checkLayout(dir string) []Error {
	var errs []Error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return []Error{{Code: CodeLayoutMissing, Location: dir, Message: "shard directory unreadable: " + err.Error()}}
	}

	permitted := map[string]bool{
		ManifestFile: false, // file
		SigDir:       true,  // dirs
		ContentDir:   true,
		GraphDir:     true,
		EvidenceDir:  true,
		ExtDir:       true,
	}
	required := []string{ManifestFile, SigDir, ContentDir, GraphDir, EvidenceDir}

	seen := map[string]bool{}
	for _, e := range entries {
		wantDir, ok := permitted[e.Name()]
		if !ok {
			errs = append(errs, Error{Code: CodeLayoutDirty, Location: e.Name(), Message: "unexpected entry at shard root"})
			continue
		}
		if e.IsDir() != wantDir {
			kind := "file"
			if wantDir {
				kind = "directory"
			}
			errs = append(errs, Error{Code: CodeLayoutDirty, Location: e.Name(), Message: "must be a " + kind})
			continue
		}
		seen[e.Name()] = true
	}
	for _, name := range required {
		if !seen[name] {
			errs = append(errs, Error{Code: CodeLayoutMissing, Location: name, Message: "required entry absent"})
		}
	}

	// Symlinks anywhere are refused before anything is opened.
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			rel, _ := filepath.Rel(dir, path)
			errs = append(errs, Error{Code: CodeLayoutDirty, Location: filepath.ToSlash(rel), Message: "symbolic link refused"})
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, Error{Code: CodeLayoutDirty, Location: dir, Message: "walk failed: " + walkErr.Error()})
	}

	if seen[SigDir] {
		errs = append(errs, checkExactFiles(dir, SigDir, map[string]bool{
			"manifest.sig":  true,
			"publisher.pub": true,
		}, false)...)
	}
	if seen[GraphDir] {
		errs = append(errs, checkExactFiles(dir, GraphDir, map[string]bool{
			"entities" + TableExt:   true,
			"claims" + TableExt:     true,
			"provenance" + TableExt: true,
		}, true)...)
	}
	if seen[EvidenceDir] {
		errs = append(errs, checkExactFiles(dir, EvidenceDir, map[string]bool{
			"spans" + TableExt: true,
		}, true)...)
	}

	return errs
}

// checkExactFiles requires sub to contain exactly the named files. Absence
// is E_LAYOUT_MISSING when requireAll, extras are always E_LAYOUT_DIRTY.
// The sig pair is reported as E_SIG_MISSING by the signature stage, so
// requireAll is false there.
func checkExactFiles(root, sub string, want map[string]bool, requireAll bool) []Error {
	var errs []Error
	entries, err := os.ReadDir(filepath.Join(root, sub))
	if err != nil {
		return []Error{{Code: CodeLayoutMissing, Location: sub, Message: "unreadable: " + err.Error()}}
	}
	found := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		if !want[name] || e.IsDir() {
			errs = append(errs, Error{Code: CodeLayoutDirty, Location: sub + "/" + name, Message: "unexpected entry"})
			continue
		}
		found[name] = true
	}
	if requireAll {
		for name := range want {
			if !found[name] {
				errs = append(errs, Error{Code: CodeLayoutMissing, Location: sub + "/" + name, Message: "required file absent"})
			}
		}
	}
	return errs
}

// extFiles lists the files under ext/, empty when the directory is absent
// or empty. Extension tables are named <name>@<version>.axt.
func extFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, ExtDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// extName derives the manifest extensions entry from an ext/ filename:
// "locators@1.axt" -> "locators@1".
func extName(file string) string {
	return strings.TrimSuffix(file, TableExt)
}
