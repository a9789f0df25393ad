// Package args implements the compiler argument classifier: it
// partitions a compiler command line into the arguments that affect
// preprocessing, the arguments that affect compilation, and the ones
// that influence neither, while extracting the semantic fields the
// rest of the cache needs (input file, output object, language, dep
// file, -arch list, PCH/split-dwarf/coverage/profile flags).
package args

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cacheline/ccwrap/internal/codes"
)

// Language is the compilation language inferred from a flag or the
// input file's extension.
type Language string

const (
	LangC        Language = "c"
	LangCXX      Language = "c++"
	LangObjC     Language = "objective-c"
	LangObjCXX   Language = "objective-c++"
	LangCUDA     Language = "cuda"
	LangUnknown  Language = ""
	LangCPreproc Language = "cpp-output"    // .i
	LangCXXPreproc Language = "c++-cpp-output" // .ii
)

var extToLang = map[string]Language{
	".c":   LangC,
	".i":   LangCPreproc,
	".cc":  LangCXX,
	".cp":  LangCXX,
	".cxx": LangCXX,
	".cpp": LangCXX,
	".c++": LangCXX,
	".C":   LangCXX,
	".ii":  LangCXXPreproc,
	".m":   LangObjC,
	".mm":  LangObjCXX,
	".cu":  LangCUDA,
}

// Compiler distinguishes which compiler-flag family is in play
// (gcc-like vs. clang-only permissiveness).
type Compiler string

const (
	CompilerGCC     Compiler = "gcc"
	CompilerClang   Compiler = "clang"
	CompilerNVCC    Compiler = "nvcc"
	CompilerPump    Compiler = "pump"
	CompilerUnknown Compiler = "unknown"
)

// GuessCompiler infers the compiler family from argv[0]'s basename.
func GuessCompiler(argv0 string) Compiler {
	base := filepath.Base(argv0)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	switch {
	case strings.Contains(base, "clang"):
		return CompilerClang
	case strings.Contains(base, "nvcc"):
		return CompilerNVCC
	case strings.Contains(base, "pump") || strings.Contains(base, "distcc"):
		return CompilerPump
	case strings.Contains(base, "gcc"), strings.Contains(base, "g++"), strings.Contains(base, "cc"), strings.Contains(base, "c++"):
		return CompilerGCC
	default:
		return CompilerUnknown
	}
}

// ArgsInfo is the classifier's output: the semantic fields extracted
// from the command line plus the three partitioned argument lists
// consumed by the common/direct/preprocessor hashes.
type ArgsInfo struct {
	InputFile  string
	Language   Language
	ForcedLang bool // true if -x set the language explicitly

	OutputObject string
	DepFile      string
	DiaFile      string // diagnostics output (.dia)
	DwoFile      string // split-dwarf output
	GcnoFile     string // coverage notes output
	SuFile       string // stack-usage output

	GeneratingDeps bool // -M/-MD/-MMD family present
	UsingPCH       bool
	PCHFile        string
	SplitDwarf     bool
	Coverage       bool
	ProfileGenerate bool
	ProfileUse      bool
	ProfileDir      string

	Arch []string // repeated -arch values, order preserved

	SanitizerBlacklists []string // -fsanitize-blacklist=/-fsanitize-ignorelist= values

	PrefixMapPresent bool // any of -fdebug-prefix-map / -ffile-prefix-map / -fmacro-prefix-map

	// PreprocessorArgs influence preprocessed output (and therefore
	// both the direct and preprocessor hash).
	PreprocessorArgs []string
	// CompilerArgs influence compilation only. They leave the
	// preprocessed text unchanged, so both the direct hash and the
	// preprocessor-mode hash absorb them explicitly.
	CompilerArgs []string
	// ExtraArgsToHash are arguments that must contribute to the
	// result's identity even though they're neither preprocessor- nor
	// compile-only in the strict sense: -arch and its value, the bare
	// name of a path-rewriting option, and link-only flags for clang.
	ExtraArgsToHash []string
}

// Stat is either codes.StatNone (success) or a classification failure
// the orchestrator must surface and then fall back on.
type Stat = codes.StatKind

// Classify partitions argv (excluding argv[0], the compiler itself).
// compiler is the guessed compiler family, used to decide whether
// link-only flags are dropped from the hash (dropped unless the
// compiler is in the clang permissive group).
func Classify(argv []string, compiler Compiler) (*ArgsInfo, Stat) {
	info := &ArgsInfo{}

	var sawInput int
	var unknownInput string
	var outputSet bool
	var outputValue string

	i := 0
	for i < len(argv) {
		a := argv[i]
		opt, ok := lookupOption(a, compiler)
		if !ok {
			// Not a recognized flag: either a positional source file or
			// an argument this classifier doesn't understand. Unknown
			// single-dash flags with no table entry are treated as
			// compile-affecting per ccache's historical default
			// (conservative: hash it rather than silently drop it).
			if !strings.HasPrefix(a, "-") {
				if isSourceFile(a) {
					sawInput++
					info.InputFile = a
				} else if unknownInput == "" {
					unknownInput = a
				}
				info.CompilerArgs = append(info.CompilerArgs, a)
				i++
				continue
			}
			info.CompilerArgs = append(info.CompilerArgs, a)
			i++
			continue
		}

		value := opt.value
		consumed := 1
		if opt.takesArg && value == "" && i+1 < len(argv) {
			value = argv[i+1]
			consumed = 2
		}

		switch opt.canonical {
		case "-E":
			// The caller wants preprocessed output, not an object file;
			// nothing here for the cache to serve.
			return nil, codes.StatUnsupportedCompilerOption
		case "-o":
			outputSet = true
			outputValue = value
		case "-arch":
			info.Arch = append(info.Arch, value)
			info.ExtraArgsToHash = append(info.ExtraArgsToHash, a, value)
		case "-x":
			if lang, ok := langFromDashX(value); ok {
				info.Language = lang
				info.ForcedLang = true
			}
		case "-include-pch", "-fpch-preprocess":
			info.UsingPCH = true
			if opt.canonical == "-include-pch" {
				info.PCHFile = value
			}
		case "-gsplit-dwarf":
			info.SplitDwarf = true
		case "--coverage", "-ftest-coverage", "-fprofile-arcs":
			info.Coverage = true
		case "-fprofile-generate":
			info.ProfileGenerate = true
			info.ProfileDir = strings.TrimPrefix(value, "=")
		case "-fprofile-use":
			info.ProfileUse = true
			info.ProfileDir = strings.TrimPrefix(value, "=")
		case "-fsanitize-blacklist", "-fsanitize-ignorelist":
			info.SanitizerBlacklists = append(info.SanitizerBlacklists, value)
		case "-fdebug-prefix-map", "-ffile-prefix-map", "-fmacro-prefix-map":
			info.PrefixMapPresent = true
			// The presence is hashed via ExtraArgsToHash with the value
			// stripped, so different base directories can still share a
			// cached result.
			info.ExtraArgsToHash = append(info.ExtraArgsToHash, opt.canonical)
		case "-M", "-MM":
			// Plain -M/-MM imply -E: the compiler only prints the
			// dependency list, so there is no object to cache.
			return nil, codes.StatUnsupportedCompilerOption
		case "-MD", "-MMD":
			info.GeneratingDeps = true
		case "-MF":
			info.DepFile = value
		}

		switch {
		case opt.preprocessorAffecting:
			if consumed == 2 {
				info.PreprocessorArgs = append(info.PreprocessorArgs, a, value)
			} else {
				info.PreprocessorArgs = append(info.PreprocessorArgs, a)
			}
		case opt.canonical == "-MF":
			info.PreprocessorArgs = append(info.PreprocessorArgs, a, value)
		case opt.compileAffecting:
			if consumed == 2 {
				info.CompilerArgs = append(info.CompilerArgs, a, value)
			} else {
				info.CompilerArgs = append(info.CompilerArgs, a)
			}
		case opt.linkOnly:
			// Dropped from the hash unless the compiler is in the
			// permissive (clang) group.
			if compiler == CompilerClang {
				info.ExtraArgsToHash = append(info.ExtraArgsToHash, a)
				if consumed == 2 {
					info.ExtraArgsToHash = append(info.ExtraArgsToHash, value)
				}
			}
		}

		i += consumed
	}

	if sawInput == 0 {
		if unknownInput != "" {
			// A positional argument was given, but its extension maps
			// to no known language.
			return nil, codes.StatUnsupportedSourceLanguage
		}
		return nil, codes.StatNoInputFile
	}
	if sawInput > 1 {
		return nil, codes.StatMultipleSourceFiles
	}

	if !info.ForcedLang {
		info.Language = languageFromExt(filepath.Ext(info.InputFile))
	}
	if info.Language == LangUnknown {
		return nil, codes.StatUnsupportedSourceLanguage
	}

	if outputSet {
		if outputValue == "-" {
			return nil, codes.StatOutputToStdout
		}
		info.OutputObject = outputValue
	} else {
		info.OutputObject = deriveOutputObject(info.InputFile)
	}

	if info.GeneratingDeps && info.DepFile == "" {
		info.DepFile = replaceExt(info.OutputObject, ".d")
	}
	if info.Coverage {
		info.GcnoFile = replaceExt(info.OutputObject, ".gcno")
	}
	if info.SplitDwarf {
		info.DwoFile = replaceExt(info.OutputObject, ".dwo")
	}
	info.SuFile = replaceExt(info.OutputObject, ".su")
	info.DiaFile = replaceExt(info.OutputObject, ".dia")

	return info, codes.StatNone
}

func deriveOutputObject(input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".o"
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newExt
}

func isSourceFile(path string) bool {
	_, ok := extToLang[filepath.Ext(path)]
	return ok
}

func languageFromExt(ext string) Language {
	return extToLang[ext]
}

func langFromDashX(v string) (Language, bool) {
	switch v {
	case "c":
		return LangC, true
	case "c++":
		return LangCXX, true
	case "objective-c":
		return LangObjC, true
	case "objective-c++":
		return LangObjCXX, true
	case "cu", "cuda":
		return LangCUDA, true
	case "cpp-output":
		return LangCPreproc, true
	case "c++-cpp-output":
		return LangCXXPreproc, true
	default:
		return LangUnknown, false
	}
}

// ErrorForStat renders a human-readable error for a classification
// Stat, used when the orchestrator logs why it fell back.
func ErrorForStat(s Stat) error {
	if s == codes.StatNone {
		return nil
	}
	return fmt.Errorf("args: %s", s.String())
}
