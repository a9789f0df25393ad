// Package orchestrator wires every other package into the single
// state machine one wrapped compiler invocation walks through:
// classify argv, try direct mode, fall back to preprocessor (or
// depend) mode, and on a miss run the real compiler and populate both
// stores. It is the one package every other internal package feeds
// into.
package orchestrator

import (
	"bytes"
	"os"
	"time"

	"github.com/cacheline/ccwrap/internal/args"
	"github.com/cacheline/ccwrap/internal/codes"
	"github.com/cacheline/ccwrap/internal/commoninfo"
	"github.com/cacheline/ccwrap/internal/compilerexec"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/digest"
	"github.com/cacheline/ccwrap/internal/includes"
	"github.com/cacheline/ccwrap/internal/manifest"
	"github.com/cacheline/ccwrap/internal/result"
	"github.com/cacheline/ccwrap/internal/stats"
	"github.com/cacheline/ccwrap/internal/tempfiles"
	"github.com/cacheline/ccwrap/internal/tracelog"
)

// Stat is the final outcome of one Run, reported to internal/stats.
type Stat = codes.StatKind

// includeEnvVars are the environment variables that extend the
// compiler's include search path and therefore contribute to the
// direct-mode key (the preprocessor branch sees their effect in the
// preprocessed text instead).
var includeEnvVars = []string{"CPATH", "C_INCLUDE_PATH", "CPLUS_INCLUDE_PATH", "OBJC_INCLUDE_PATH"}

// Orchestrator holds the stores and configuration a Run needs. The
// compiler-wrapper entry point builds one per process.
type Orchestrator struct {
	Cfg          *config.Config
	CompilerPath string
	Manifests    *manifest.Store
	Results      *result.Store
	Stats        *stats.Store
	Log          *tracelog.Logger
	Runner       *compilerexec.Runner
	Temp         *tempfiles.Registry
}

// New builds an Orchestrator from an already-resolved Config and an
// already-opened statistics store.
func New(cfg *config.Config, compilerPath string, st *stats.Store) *Orchestrator {
	return &Orchestrator{
		Cfg:          cfg,
		CompilerPath: compilerPath,
		Manifests:    manifest.NewStore(cfg.CacheDir, cfg.ManifestMaxEntries, compressionLevel(cfg)),
		Results:      result.NewStore(cfg.CacheDir, compressionLevel(cfg), true),
		Stats:        st,
		Log:          tracelog.New(cfg.Debug),
		Runner:       compilerexec.NewRunner(),
		Temp:         tempfiles.New(),
	}
}

func compressionLevel(cfg *config.Config) int {
	if !cfg.Compression {
		return 0
	}
	if cfg.CompressionLevel > 0 {
		return cfg.CompressionLevel
	}
	return 6
}

// Run drives the full lookup/ingest state machine for one compiler
// invocation. argv excludes argv[0] (the compiler path itself, already
// resolved into o.CompilerPath).
func (o *Orchestrator) Run(argv []string) (exitCode int, stat Stat) {
	stopTrap := o.Temp.TrapSignals()
	defer stopTrap()
	defer o.Temp.Cleanup()

	compiler := args.GuessCompiler(o.CompilerPath)
	info, classifyStat := args.Classify(argv, compiler)
	if classifyStat != codes.StatNone {
		o.Log.Trace("classify-failed")
		return o.fallback(argv, classifyStat)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return o.fallback(argv, codes.StatCouldNotFindCwd)
	}

	identity, err := commoninfo.ResolveIdentity(o.Cfg.CompilerCheck, o.CompilerPath)
	if err != nil {
		return o.fallback(argv, codes.StatCompilerCheckFailed)
	}

	common := digest.New()
	commonInputs := commoninfo.Inputs{
		Cfg:                 o.Cfg,
		Info:                info,
		CompilerPath:        o.CompilerPath,
		Compiler:            compiler,
		Identity:            identity,
		GeneratingDebugInfo: hasDebugFlag(info),
		Cwd:                 cwd,
		SanitizerBlacklists: info.SanitizerBlacklists,
		CompileStart:        time.Now(),
	}
	if err := commoninfo.Absorb(common, commonInputs); err != nil {
		return o.fallback(argv, codes.StatMissingExtraFile)
	}

	// The expansion of __TIME__ and friends changes from run to run, so
	// a source file that uses them can never be keyed by its raw text.
	timeMacro := !o.Cfg.Sloppiness.Has(config.SloppyTimeMacros) &&
		includes.SourceHasTimeMacro(info.InputFile)

	var directKey digest.Digest
	haveDirectKey := false
	if o.Cfg.DirectMode && !timeMacro {
		if h, err := o.directHash(info, common); err == nil {
			directKey = h.Finalize()
			haveDirectKey = true
			if code, st, ok := o.tryDirect(directKey, info, commonInputs); ok {
				return code, st
			}
		}
	}

	if o.Cfg.ReadOnlyDirect {
		return o.fallback(argv, codes.StatCacheMiss)
	}

	if o.Cfg.Depend && info.GeneratingDeps {
		return o.runDepend(argv, info, compiler, common, commonInputs, directKey, haveDirectKey, timeMacro)
	}

	return o.runPreprocessed(argv, info, compiler, common, commonInputs, directKey, haveDirectKey, timeMacro)
}

// directHash forks the common hash and absorbs everything the
// direct-mode key covers beyond the common fields: compile-affecting
// arguments, preprocessor-affecting arguments, the always-hashed extra
// arguments, the raw source text, the input path, and the
// include-search environment variables whose effect the preprocessor
// branch would otherwise capture for us.
func (o *Orchestrator) directHash(info *args.ArgsInfo, common *digest.Hasher) (*digest.Hasher, error) {
	h := common.Copy()
	h.Delimiter("direct-args")
	for _, a := range info.CompilerArgs {
		h.Delimiter("arg")
		h.AbsorbString(a)
	}
	h.Delimiter("preprocessor-args")
	for _, a := range info.PreprocessorArgs {
		h.Delimiter("arg")
		h.AbsorbString(a)
	}
	h.Delimiter("extra-args")
	for _, a := range info.ExtraArgsToHash {
		h.Delimiter("arg")
		h.AbsorbString(a)
	}

	src, err := os.Open(info.InputFile)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	h.Delimiter("source")
	if err := h.AbsorbReader(src); err != nil {
		return nil, err
	}

	h.Delimiter("input-path")
	h.AbsorbString(info.InputFile)

	h.Delimiter("include-env")
	for _, name := range includeEnvVars {
		h.Delimiter(name)
		h.AbsorbString(os.Getenv(name))
	}
	return h, nil
}

// tryDirect looks the direct-mode key up in the manifest and, on a
// candidate whose include set still matches the files on disk,
// materializes the recorded result without ever invoking the
// preprocessor.
func (o *Orchestrator) tryDirect(key digest.Digest, info *args.ArgsInfo, in commoninfo.Inputs) (int, Stat, bool) {
	resultDigest, hit, err := o.Manifests.Get(key, func(c manifest.Candidate) (bool, error) {
		return o.candidateMatches(c, in.CompileStart)
	})
	if err != nil || !hit {
		return 0, codes.StatNone, false
	}

	if err := o.materializeHit(resultDigest, info); err != nil {
		// A corrupt result entry is a miss; removing it keeps the next
		// miss from tripping over the same bytes.
		o.Results.Remove(resultDigest)
		return 0, codes.StatNone, false
	}
	o.record(codes.StatDirectHit)
	return 0, codes.StatDirectHit, true
}

// candidateMatches decides whether a manifest candidate's recorded
// include set still matches what's on disk, either via the fast
// stat-only path (sloppiness file_stat_matches) or a full rehash.
func (o *Orchestrator) candidateMatches(c manifest.Candidate, compileStart time.Time) (bool, error) {
	for _, rec := range c.IncludedFiles {
		info, err := os.Stat(rec.Path)
		if err != nil {
			return false, nil
		}
		if o.Cfg.Sloppiness.Has(config.SloppyFileStatMatches) {
			if info.Size() != rec.Size || info.ModTime().UnixNano() != rec.Mtime {
				return false, nil
			}
			continue
		}
		f, err := os.Open(rec.Path)
		if err != nil {
			return false, nil
		}
		d, err := digest.HashReader("include-content", f)
		f.Close()
		if err != nil {
			return false, nil
		}
		if d != rec.Digest {
			return false, nil
		}
	}
	return true, nil
}

// materializeHit writes every requested output from the result bundle
// and replays the compilation's captured stderr, so a hit is
// indistinguishable from rerunning the compiler.
func (o *Orchestrator) materializeHit(key digest.Digest, info *args.ArgsInfo) error {
	if err := o.Results.Get(key, destinationsFor(info)); err != nil {
		return err
	}
	if stderrBytes, ok := o.Results.Stderr(key); ok {
		os.Stderr.Write(stderrBytes)
	}
	return nil
}

// runPreprocessed runs the real preprocessor, scans its output for
// includes, hashes the cleaned text plus the preprocessor's stderr,
// and checks the result store directly: the preprocessed text already
// encodes every header's content, so the preprocessor-mode key doubles
// as the result digest. On a miss, compile for real and populate both
// stores.
func (o *Orchestrator) runPreprocessed(argv []string, info *args.ArgsInfo, compiler args.Compiler, common *digest.Hasher, in commoninfo.Inputs, directKey digest.Digest, haveDirectKey, timeMacro bool) (int, Stat) {
	preArgs := append(append([]string{}, info.PreprocessorArgs...), info.InputFile)
	preRes, err := o.Runner.Preprocess(o.CompilerPath, preArgs)
	if err != nil || preRes.ExitCode != 0 {
		return o.fallback(argv, codes.StatPreprocessorError)
	}

	set := includes.NewSet()
	scanner := includes.NewScanner(o.Cfg, baseDirOf(o.Cfg), info.InputFile, in.CompileStart, compiler, common.Copy(), set)
	cleaned, err := scanner.ScanPreprocessed(bytes.NewReader(preRes.Stdout))
	if err != nil {
		return o.fallback(argv, codes.StatPreprocessorError)
	}
	if scanner.SawIncbin {
		return o.fallback(argv, codes.StatUnsupportedDirective)
	}
	if info.UsingPCH && info.PCHFile != "" {
		if err := scanner.ConsiderPCH(info.PCHFile); err != nil {
			return o.fallback(argv, codes.StatPreprocessorError)
		}
	}
	if scanner.Refused {
		o.Log.Trace("direct-mode-refused: " + scanner.RefusedReason)
	}
	storeDirect := haveDirectKey && !scanner.Refused

	preHash := scanner.Hash
	// Codegen flags (-O, -g, -std, -m*) don't change the preprocessed
	// text, so they must be hashed explicitly or two builds differing
	// only in optimization level would share one result.
	preHash.Delimiter("compiler-args")
	for _, a := range info.CompilerArgs {
		preHash.Delimiter("arg")
		preHash.AbsorbString(a)
	}
	preHash.Delimiter("extra-args")
	for _, a := range info.ExtraArgsToHash {
		preHash.Delimiter("arg")
		preHash.AbsorbString(a)
	}
	preHash.Delimiter("preprocessor-args")
	for _, a := range info.PreprocessorArgs {
		preHash.Delimiter("arg")
		preHash.AbsorbString(a)
	}
	preHash.Delimiter("preprocessed-text")
	preHash.Absorb(cleaned)
	preHash.Delimiter("preprocessor-stderr")
	preHash.Absorb(preRes.Stderr)
	resultDigest := preHash.Finalize()

	if err := o.materializeHit(resultDigest, info); err == nil {
		if storeDirect {
			o.putManifest(directKey, set, resultDigest)
		}
		o.record(codes.StatPreprocessorHit)
		return 0, codes.StatPreprocessorHit
	}
	if o.Cfg.ReadOnly {
		return o.fallback(argv, codes.StatCacheMiss)
	}

	return o.compileAndStore(argv, info, set, resultDigest, directKey, storeDirect, timeMacro)
}

// runDepend skips the preprocessor entirely: the real compiler runs
// once with its own dependency generation, the emitted dep file
// supplies the include set, and the result key is derived from the
// direct-mode hash plus that set.
func (o *Orchestrator) runDepend(argv []string, info *args.ArgsInfo, compiler args.Compiler, common *digest.Hasher, in commoninfo.Inputs, directKey digest.Digest, haveDirectKey, timeMacro bool) (int, Stat) {
	if o.Cfg.ReadOnly {
		return o.fallback(argv, codes.StatCacheMiss)
	}

	compileRes, err := o.Runner.Compile(o.CompilerPath, argv)
	if err != nil {
		o.record(codes.StatCompilerExecutionError)
		return 1, codes.StatCompilerExecutionError
	}
	if compileRes.ExitCode != 0 {
		os.Stdout.Write(compileRes.Stdout)
		os.Stderr.Write(compileRes.Stderr)
		o.record(codes.StatCompileFailed)
		return compileRes.ExitCode, codes.StatCompileFailed
	}

	depHash, err := o.directHash(info, common)
	if err != nil {
		os.Stderr.Write(compileRes.Stderr)
		return o.finishUncached(codes.StatCacheMiss)
	}

	set := includes.NewSet()
	scanner := includes.NewScanner(o.Cfg, baseDirOf(o.Cfg), info.InputFile, in.CompileStart, compiler, depHash, set)
	depFile, err := os.Open(info.DepFile)
	if err != nil {
		os.Stderr.Write(compileRes.Stderr)
		return o.finishUncached(codes.StatCacheMiss)
	}
	scanErr := scanner.ScanDepFile(depFile)
	depFile.Close()
	if scanErr == nil && info.UsingPCH && info.PCHFile != "" {
		scanErr = scanner.ConsiderPCH(info.PCHFile)
	}
	if scanErr != nil || scanner.Refused || timeMacro {
		os.Stderr.Write(compileRes.Stderr)
		if timeMacro {
			return o.finishUncached(codes.StatSourceTimeMacro)
		}
		return o.finishUncached(codes.StatCacheMiss)
	}

	scanner.Hash.Delimiter("dep-mode")
	resultDigest := scanner.Hash.Finalize()

	if err := o.Results.PutWithStderr(resultDigest, sourcesFor(info), compileRes.Stderr); err == nil {
		if haveDirectKey {
			o.putManifest(directKey, set, resultDigest)
		}
	}
	os.Stderr.Write(compileRes.Stderr)
	o.record(codes.StatCacheMiss)
	return 0, codes.StatCacheMiss
}

// compileAndStore runs the real compiler (a genuine cache miss) and,
// on success, bundles its outputs into the result store and appends a
// fresh manifest candidate so the next identical build hits direct
// mode. timeMacro suppresses all storing: an output derived from
// __TIME__ would be stale the moment it was written.
func (o *Orchestrator) compileAndStore(argv []string, info *args.ArgsInfo, set *includes.Set, resultDigest digest.Digest, directKey digest.Digest, storeDirect, timeMacro bool) (int, Stat) {
	compileRes, err := o.Runner.Compile(o.CompilerPath, argv)
	if err != nil {
		o.record(codes.StatCompilerExecutionError)
		return 1, codes.StatCompilerExecutionError
	}
	if compileRes.ExitCode != 0 {
		os.Stdout.Write(compileRes.Stdout)
		os.Stderr.Write(compileRes.Stderr)
		o.record(codes.StatCompileFailed)
		return compileRes.ExitCode, codes.StatCompileFailed
	}
	if len(compileRes.Stdout) > 0 {
		os.Stdout.Write(compileRes.Stdout)
		os.Stderr.Write(compileRes.Stderr)
		o.record(codes.StatCompilerProducedStdout)
		return 0, codes.StatCompilerProducedStdout
	}
	if timeMacro {
		os.Stderr.Write(compileRes.Stderr)
		return o.finishUncached(codes.StatSourceTimeMacro)
	}
	if info.OutputObject != os.DevNull && !exists(info.OutputObject) {
		os.Stderr.Write(compileRes.Stderr)
		o.record(codes.StatCompilerProducedEmptyOutput)
		return 0, codes.StatCompilerProducedEmptyOutput
	}

	if err := o.Results.PutWithStderr(resultDigest, sourcesFor(info), compileRes.Stderr); err == nil {
		if storeDirect {
			o.putManifest(directKey, set, resultDigest)
		}
	}

	os.Stderr.Write(compileRes.Stderr)
	o.record(codes.StatCacheMiss)
	return 0, codes.StatCacheMiss
}

func (o *Orchestrator) finishUncached(stat Stat) (int, Stat) {
	o.record(stat)
	return 0, stat
}

func (o *Orchestrator) putManifest(key digest.Digest, set *includes.Set, resultDigest digest.Digest) {
	var records []manifest.IncludedFileRecord
	for _, f := range set.Files() {
		records = append(records, manifest.IncludedFileRecord{
			Path:   f.CanonicalPath,
			Digest: f.ContentDigest,
			Size:   f.Size,
			Mtime:  f.Mtime.UnixNano(),
			Ctime:  f.Ctime.UnixNano(),
		})
	}
	o.Manifests.Put(key, manifest.Candidate{IncludedFiles: records, Result: resultDigest})
}

// fallback hands the invocation straight to the real compiler,
// connecting stdio directly: whatever kept the cache from answering,
// the user sees only the compiler's own behavior and exit code. The
// Stat is still recorded for statistics.
func (o *Orchestrator) fallback(argv []string, stat Stat) (int, Stat) {
	o.record(stat)
	if !stat.IsFallback() {
		return 1, stat
	}
	return compilerexec.Exec(o.CompilerPath, argv), stat
}

func (o *Orchestrator) record(stat Stat) {
	o.Log.Stat(stat.String())
	if o.Stats != nil {
		o.Stats.Increment(stat)
	}
}

func baseDirOf(cfg *config.Config) string {
	if len(cfg.BasedirPaths) > 0 {
		return cfg.BasedirPaths[0]
	}
	return ""
}

func hasDebugFlag(info *args.ArgsInfo) bool {
	for _, a := range info.CompilerArgs {
		if a == "-g" || a == "-ggdb" || a == "-g3" {
			return true
		}
	}
	return false
}

func destinationsFor(info *args.ArgsInfo) result.Destinations {
	dest := result.Destinations{result.FileObject: info.OutputObject}
	if info.GeneratingDeps && info.DepFile != "" {
		dest[result.FileDependency] = info.DepFile
	}
	if info.Coverage && info.GcnoFile != "" {
		dest[result.FileCoverage] = info.GcnoFile
	}
	if info.SplitDwarf && info.DwoFile != "" {
		dest[result.FileDwarfObject] = info.DwoFile
	}
	return dest
}

func sourcesFor(info *args.ArgsInfo) result.Sources {
	sources := result.Sources{}
	if exists(info.OutputObject) {
		sources[result.FileObject] = info.OutputObject
	}
	if info.GeneratingDeps && info.DepFile != "" && exists(info.DepFile) {
		sources[result.FileDependency] = info.DepFile
	}
	if info.Coverage && info.GcnoFile != "" && exists(info.GcnoFile) {
		sources[result.FileCoverage] = info.GcnoFile
	}
	if info.SplitDwarf && info.DwoFile != "" && exists(info.DwoFile) {
		sources[result.FileDwarfObject] = info.DwoFile
	}
	return sources
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
