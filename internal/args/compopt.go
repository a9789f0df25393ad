package args

import "strings"

// option describes one entry of the compopt table: does it take an
// argument, is that argument always joined to the flag, and does it
// affect preprocessing, compilation, or only linking.
type option struct {
	canonical              string
	takesArg               bool
	joinedOnly             bool // value is always attached, e.g. -Ipath, -Dmacro=1
	preprocessorAffecting  bool
	compileAffecting       bool
	linkOnly               bool
	value                  string // populated by lookupOption for joined forms
}

// compopt is the static table of recognized flags. Options not listed
// here are treated conservatively (see Classify): hashed as
// compile-affecting rather than silently dropped, since the cache
// must never produce a false hit from a flag it doesn't understand.
var compopt = map[string]option{
	// Preprocessor-affecting: defines, include paths, and anything
	// that changes what text macro-expansion sees.
	"-D": {canonical: "-D", takesArg: true, joinedOnly: true, preprocessorAffecting: true},
	"-U": {canonical: "-U", takesArg: true, joinedOnly: true, preprocessorAffecting: true},
	"-I": {canonical: "-I", takesArg: true, joinedOnly: true, preprocessorAffecting: true},
	"-isystem":  {canonical: "-isystem", takesArg: true, preprocessorAffecting: true},
	"-iquote":   {canonical: "-iquote", takesArg: true, preprocessorAffecting: true},
	"-include":  {canonical: "-include", takesArg: true, preprocessorAffecting: true},
	"-nostdinc": {canonical: "-nostdinc", preprocessorAffecting: true},
	"-undef":    {canonical: "-undef", preprocessorAffecting: true},
	"-E":        {canonical: "-E", preprocessorAffecting: true},
	"-C":        {canonical: "-C", preprocessorAffecting: true},
	"-CC":       {canonical: "-CC", preprocessorAffecting: true},
	"-M":        {canonical: "-M", preprocessorAffecting: true},
	"-MM":       {canonical: "-MM", preprocessorAffecting: true},
	"-MD":       {canonical: "-MD", preprocessorAffecting: true},
	"-MMD":      {canonical: "-MMD", preprocessorAffecting: true},
	"-MF":       {canonical: "-MF", takesArg: true},
	"-MG":       {canonical: "-MG"},
	"-MP":       {canonical: "-MP"},
	// -MT/-MQ rename the dependency target, which changes the emitted
	// dep file byte-for-byte, so they must reach the hash.
	"-MT": {canonical: "-MT", takesArg: true, preprocessorAffecting: true},
	"-MQ": {canonical: "-MQ", takesArg: true, preprocessorAffecting: true},

	// Compile-affecting: optimization level, warnings, debug info,
	// standard version, architecture tuning, sanitizers.
	"-O":  {canonical: "-O", joinedOnly: true, compileAffecting: true},
	"-g":  {canonical: "-g", compileAffecting: true},
	"-c":  {canonical: "-c"},
	"-S":  {canonical: "-S", compileAffecting: true},
	"-W":  {canonical: "-W", joinedOnly: true, compileAffecting: true},
	"-f":  {canonical: "-f", joinedOnly: true, compileAffecting: true},
	"-m":  {canonical: "-m", joinedOnly: true, compileAffecting: true},
	"-std": {canonical: "-std", joinedOnly: true, compileAffecting: true},
	"-pedantic": {canonical: "-pedantic", compileAffecting: true},
	"-x":  {canonical: "-x", takesArg: true},
	"-o":  {canonical: "-o", takesArg: true},

	// PCH / split-dwarf / coverage / profile outputs.
	"-include-pch":     {canonical: "-include-pch", takesArg: true, compileAffecting: true},
	"-fpch-preprocess": {canonical: "-fpch-preprocess", preprocessorAffecting: true},
	"-gsplit-dwarf":    {canonical: "-gsplit-dwarf", compileAffecting: true},
	"--coverage":       {canonical: "--coverage", compileAffecting: true},
	"-ftest-coverage":  {canonical: "-ftest-coverage", compileAffecting: true},
	"-fprofile-arcs":   {canonical: "-fprofile-arcs", compileAffecting: true},
	"-fprofile-generate": {canonical: "-fprofile-generate", joinedOnly: true, compileAffecting: true},
	"-fprofile-use":      {canonical: "-fprofile-use", joinedOnly: true, compileAffecting: true},

	// Sanitizer ignore lists: the file's content is hashed by the
	// common-info stage, so both spellings land in the same field.
	"-fsanitize-blacklist=":  {canonical: "-fsanitize-blacklist", joinedOnly: true, compileAffecting: true},
	"-fsanitize-ignorelist=": {canonical: "-fsanitize-ignorelist", joinedOnly: true, compileAffecting: true},

	// Path-rewriting options: presence hashed, value not.
	"-fdebug-prefix-map": {canonical: "-fdebug-prefix-map", joinedOnly: true},
	"-ffile-prefix-map":  {canonical: "-ffile-prefix-map", joinedOnly: true},
	"-fmacro-prefix-map": {canonical: "-fmacro-prefix-map", joinedOnly: true},

	// -arch may repeat; the list is preserved in order.
	"-arch": {canonical: "-arch", takesArg: true},

	// Link-only: dropped from the hash unless compiler is clang, which
	// reads some of these during compilation proper.
	"-l": {canonical: "-l", joinedOnly: true, linkOnly: true},
	"-L": {canonical: "-L", joinedOnly: true, linkOnly: true},
	"-Wl": {canonical: "-Wl", joinedOnly: true, linkOnly: true},
	"-shared": {canonical: "-shared", linkOnly: true},
	"-static": {canonical: "-static", linkOnly: true},
	"-rdynamic": {canonical: "-rdynamic", linkOnly: true},
}

// lookupOption resolves a as either an exact match or a joined-prefix
// match (e.g. "-DFOO=1" against the "-D" entry, "-Wall" against "-W").
func lookupOption(a string, compiler Compiler) (option, bool) {
	if opt, ok := compopt[a]; ok {
		return opt, true
	}

	if !strings.HasPrefix(a, "-") {
		return option{}, false
	}

	// Longest-prefix match among joinedOnly entries so "-Wl,foo" binds
	// to "-Wl" rather than the shorter "-W".
	var best option
	bestLen := -1
	for key, opt := range compopt {
		if !opt.joinedOnly {
			continue
		}
		if strings.HasPrefix(a, key) && len(key) > bestLen {
			best = opt
			best.value = strings.TrimPrefix(a, key)
			bestLen = len(key)
		}
	}
	if bestLen >= 0 {
		return best, true
	}
	return option{}, false
}
