package archive

import (
	"strings"
)

// Disambiguate assigns Directory (and, as a last resort, Ordinal) so that
// every file has a distinct Path. Files whose Name is already unique are left
// alone.
//
// Files sharing a Name get the shortest trailing run of their URI's
// directory components that tells them apart, joined with "_":
// http://host/a/x.jpg and http://host/b/x.jpg become a/x.jpg and b/x.jpg.
//
// URIs that differ only after their last slash (for example in the query
// string) cannot be told apart that way. Those files are numbered in input
// order, "x.jpg", "x (2).jpg", ..., and their paths are returned.
//
// Disambiguate is idempotent: it resets earlier assignments before starting.
func Disambiguate(files []*File) []string {
	groups := make(map[string][]*File)
	var order []string
	for _, f := range files {
		f.Directory = ""
		f.Ordinal = 0
		if _, ok := groups[f.Name]; !ok {
			order = append(order, f.Name)
		}
		groups[f.Name] = append(groups[f.Name], f)
	}

	for _, name := range order {
		if group := groups[name]; len(group) > 1 {
			assignDirectories(group)
		}
	}

	var numbered []string
	seen := make(map[string]int, len(files))
	for _, f := range files {
		p := f.Path()
		n, dup := seen[p]
		if !dup {
			seen[p] = 1
			continue
		}
		for {
			n++
			f.Ordinal = n
			if _, taken := seen[f.Path()]; !taken {
				break
			}
		}
		seen[p] = n
		seen[f.Path()] = 1
		numbered = append(numbered, f.Path())
	}
	return numbered
}

// assignDirectories finds the smallest k such that the last k directory
// components of each URI tell the group's members apart as well as their
// full directories do. Normally that means pairwise distinct; members with
// identical directories are left for the ordinal pass.
func assignDirectories(group []*File) {
	dirs := make([][]string, len(group))
	longest := 0
	for i, f := range group {
		parts := strings.Split(f.URI, "/")
		dirs[i] = parts[:len(parts)-1]
		longest = max(longest, len(dirs[i]))
	}

	target := distinctSuffixes(dirs, longest)
	k := 0
	for k < longest && distinctSuffixes(dirs, k) < target {
		k++
	}

	for i, f := range group {
		d := dirs[i]
		f.Directory = strings.Join(d[max(0, len(d)-k):], "_")
	}
}

// distinctSuffixes counts the distinct k-component suffixes in dirs.
func distinctSuffixes(dirs [][]string, k int) int {
	seen := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		// "/" cannot occur in a component, so it is a safe separator.
		seen[strings.Join(d[max(0, len(d)-k):], "/")] = struct{}{}
	}
	return len(seen)
}
