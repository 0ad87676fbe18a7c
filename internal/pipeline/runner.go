/**
 * Pipeline Runner: orchestrates a single submission
 * through INGESTED -> ANALYZED -> SPLIT? -> OCR_COMPLETE -> SEGMENTED
 * -> EXTRACTION_COMPLETE -> CLASSIFIED -> VALIDATION_COMPLETE -> SAVED,
 * each stage wrapped by withStage so its signal/event lands in the
 * trace whether it succeeds or fails. Stages are strictly ordered
 * within a run; a fatal error stops the run, marks the record FAILED,
 * and still persists and audits it.
 */
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/essaycontest/submitproc/internal/analyzer"
	"github.com/essaycontest/submitproc/internal/audit"
	"github.com/essaycontest/submitproc/internal/classifier"
	"github.com/essaycontest/submitproc/internal/errors"
	"github.com/essaycontest/submitproc/internal/extractor"
	"github.com/essaycontest/submitproc/internal/ids"
	"github.com/essaycontest/submitproc/internal/logging"
	"github.com/essaycontest/submitproc/internal/model"
	"github.com/essaycontest/submitproc/internal/nearduplicate"
	"github.com/essaycontest/submitproc/internal/ocr"
	"github.com/essaycontest/submitproc/internal/segmenter"
	"github.com/essaycontest/submitproc/internal/splitter"
	"github.com/essaycontest/submitproc/internal/textlayer"
	"github.com/essaycontest/submitproc/internal/validator"
)

// RecordStore is the persistence dependency the runner needs for the
// SAVED stage and the idempotency probe.
type RecordStore interface {
	Upsert(ctx context.Context, rec *model.SubmissionRecord) error
	// SystemGetByID bypasses ownership scoping - the worker probes with
	// privileged credentials, per spec.md's claim contract.
	SystemGetByID(ctx context.Context, submissionID string) (*model.SubmissionRecord, bool, error)
}

// ObjectStore is the INGESTED-stage dependency.
type ObjectStore interface {
	Key(ownerID, submissionID, name string) string
	Put(key string, data []byte) error
}

// Runner wires every leaf component into the nine-stage orchestration.
type Runner struct {
	Analyzer            *analyzer.Analyzer
	OCR                 ocr.Capability
	Extractor           *extractor.Extractor
	NearDuplicate       *nearduplicate.Enricher
	ValidationRules     validator.RequiredFields
	Thresholds          validator.Thresholds
	Records             RecordStore
	Objects             ObjectStore
	AuditRepo           audit.Repository
	Logger              *logging.Logger
	DefaultContactLines int
	// Deadlines bounds the suspension points (OCR, LLM, object store,
	// record store). Zero values mean no per-call deadline.
	Deadlines Deadlines
	// PersistArtifacts enables per-stage artifact writes (ocr.json,
	// raw_text.txt, structured.json, validation.json, audit_trace.json)
	// under the submission's object-store prefix. Artifacts are
	// best-effort; the audit store stays authoritative.
	PersistArtifacts bool
}

// Run executes the full pipeline for one file. jobID is not used inside
// the run; the trace's identity is the submission_id.
//
// Before any stage runs, Run performs the idempotency probe spec.md
// §4.10 requires: it derives the submission_id from the content hash
// and checks whether a finalized record already exists for it. On a
// hit it emits DUPLICATE_SKIPPED and returns the existing record
// without invoking OCR or the LLM.
func (r *Runner) Run(ctx context.Context, req model.UploadRequest, jobID string) (*model.SubmissionRecord, error) {
	parentID := ids.ParentID(req.FileBytes)

	if r.Records != nil {
		if existing, found, err := r.Records.SystemGetByID(ctx, parentID); err == nil && found && isFinalized(existing.Status) {
			if r.Logger != nil {
				r.Logger.Info("idempotency probe hit, skipping reprocessing", "submission_id", parentID, "status", existing.Status)
			}
			if r.AuditRepo != nil {
				tracer := audit.NewWriter(r.AuditRepo, r.Logger, parentID, req.OwnerID, fingerprint(req.FileBytes))
				tracer.Emit(ctx, "system", model.EventDuplicateSkipped, map[string]interface{}{"existing_status": string(existing.Status)})
				tracer.Finish(ctx, "duplicate_skipped")
			}
			return existing, nil
		}
	}

	return r.runOne(ctx, req, parentID, nil, nil, nil)
}

// isFinalized reports whether a prior run over this submission_id
// already reached a non-FAILED save. spec.md §4.10 names PROCESSED and
// APPROVED explicitly; §4.9's SAVED stage always lands successful runs
// in PENDING_REVIEW (needs_review is a separate field from status), so
// PENDING_REVIEW is treated as finalized too - otherwise no upload
// would ever be caught as a duplicate, since PROCESSED is never
// assigned by this pipeline.
func isFinalized(status model.Status) bool {
	return status == model.StatusPendingReview || status == model.StatusProcessed || status == model.StatusApproved
}

func (r *Runner) runOne(ctx context.Context, req model.UploadRequest, submissionID string, parentID *string, childIndex *int, multiEntrySource *bool) (*model.SubmissionRecord, error) {
	logger := r.Logger
	if logger != nil {
		logger = logger.Stage(submissionID, "runner")
	}

	tracer := audit.NewWriter(r.AuditRepo, r.Logger, submissionID, req.OwnerID, fingerprint(req.FileBytes))

	rec := &model.SubmissionRecord{
		SubmissionID:       submissionID,
		OwnerID:            req.OwnerID,
		ParentSubmissionID: parentID,
		ChildIndex:         childIndex,
		MultiEntrySource:   multiEntrySource,
		Filename:           req.Filename,
		UploadBatchID:      req.UploadBatchID,
	}

	fail := func(stage string, err error) (*model.SubmissionRecord, error) {
		pipeErr := errors.New(classifyErrorCode(stage), submissionID, err.Error(), err)
		tracer.Error(ctx, stage, pipeErr)
		rec.Status = model.StatusFailed
		rec.NeedsReview = true
		if r.Records != nil {
			_ = callExternal(ctx, r.Deadlines.RecordStore, func(cctx context.Context) error {
				return r.Records.Upsert(cctx, rec)
			})
		}
		tracer.Finish(ctx, "failed")
		return rec, pipeErr
	}

	if err := ctx.Err(); err != nil {
		return fail("INGESTED", errors.NewCancelledError(submissionID, "INGESTED"))
	}

	// Stage 1: INGESTED
	storagePath := ""
	err := r.withStage(ctx, tracer, submissionID, "INGESTED", model.EventIngested, func() error {
		ext := filepath.Ext(req.Filename)
		key := r.Objects.Key(req.OwnerID, submissionID, "original"+ext)
		if err := callExternal(ctx, r.Deadlines.ObjectStore, func(context.Context) error {
			return r.Objects.Put(key, req.FileBytes)
		}); err != nil {
			return err
		}
		storagePath = key
		return nil
	})
	if err != nil {
		return fail("INGESTED", err)
	}
	rec.StoragePath = storagePath

	// Stage 2: ANALYZED
	var analysis *model.DocumentAnalysis
	err = r.withStage(ctx, tracer, submissionID, "ANALYZED", model.EventType(""), func() error {
		a, analysisErrs := r.Analyzer.Analyze(req.FileBytes, req.Filename)
		for _, e := range analysisErrs {
			tracer.Signal(e)
		}
		analysis = a
		return nil
	})
	if err != nil {
		return fail("ANALYZED", err)
	}
	rec.DocClass = analysis.DocClass
	rec.DocFormat = analysis.Format

	// Stage 3: SPLIT? - recurse per child; parent is a container, not saved.
	// Guarded to top-level requests only: a child's own bytes are the
	// same shared source bytes as its parent (splitter.Split does not
	// slice per-child PDF streams), so re-running the analyzer on a
	// child would yield the identical multi-chunk DocumentAnalysis and
	// re-enter this branch forever. parentID != nil means runOne is
	// already processing one child of a prior split; it must run its
	// own chunk straight through instead of splitting again.
	if parentID == nil && analysis.Structure == model.StructureMulti && len(analysis.ChunkRanges) > 1 {
		children := splitter.Split(submissionID, req.FileBytes, analysis)
		tracer.Signal(fmt.Sprintf("split into %d children", len(children)))
		tracer.Finish(ctx, "split_into_children")

		multiEntry := analysis.IsMultiEntry
		for i, child := range children {
			childReq := req
			childReq.FileBytes = child.Bytes
			pageRange := child.PageRange
			childReq.PageRange = &pageRange
			idx := i
			if _, err := r.runOne(ctx, childReq, child.ChildID, &submissionID, &idx, &multiEntry); err != nil && logger != nil {
				logger.Warn("child run failed", "child_id", child.ChildID, "error", err)
			}
		}
		return rec, nil
	}

	// Stage 4: OCR_COMPLETE (or Text-Layer Reader for native-text PDFs).
	// Reading the embedded text layer is not an OCR invocation, so that
	// path emits no OCR_COMPLETE event: a typed PDF's event stream is
	// INGESTED, EXTRACTION_COMPLETE, VALIDATION_COMPLETE, SAVED.
	ocrEvent := model.EventOCRComplete
	if analysis.Format == model.FormatNativeText {
		ocrEvent = model.EventType("")
	}
	var ocrResult *model.OcrResult
	err = r.withStage(ctx, tracer, submissionID, "OCR_COMPLETE", ocrEvent, func() error {
		if analysis.Format == model.FormatNativeText {
			res, err := textlayer.Read(req.FileBytes)
			if err != nil {
				return err
			}
			ocrResult = res
			return nil
		}
		if isImageFilename(req.Filename) {
			return callExternal(ctx, r.Deadlines.OCRPerPage, func(cctx context.Context) error {
				res, err := r.OCR.OCRImage(cctx, req.FileBytes)
				if err != nil {
					return err
				}
				ocrResult = res
				return nil
			})
		}
		// PDF source: OCR only the page range this request owns (the
		// whole document for a top-level upload, one child's range for a
		// PDF Splitter child) via the two-operation OCR Capability
		// contract.
		rangeToRead := model.ChunkRange{Start: 0, End: analysis.PageCount}
		if req.PageRange != nil {
			rangeToRead = *req.PageRange
		}
		pages := rangeToRead.End - rangeToRead.Start
		if pages < 1 {
			pages = 1
		}
		var results []*model.OcrResult
		err := callExternal(ctx, time.Duration(pages)*r.Deadlines.OCRPerPage, func(cctx context.Context) error {
			var err error
			results, err = r.OCR.OCRPDFPages(cctx, req.FileBytes, []model.ChunkRange{rangeToRead})
			return err
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			ocrResult = ocr.FailedResult()
			return nil
		}
		ocrResult = results[0]
		return nil
	})
	if err != nil {
		return fail("OCR_COMPLETE", err)
	}
	rec.OCRConfidenceAvg = ocrResult.ConfidenceAvg
	rec.OCRFailed = ocrResult.OCRFailed
	r.putArtifact(ctx, tracer, req.OwnerID, submissionID, "ocr.json", marshalArtifact(ocrResult))
	r.putArtifact(ctx, tracer, req.OwnerID, submissionID, "raw_text.txt", []byte(ocrResult.FullText))

	// Stage 5: SEGMENTED
	var segments segmenter.Segments
	_ = r.withStage(ctx, tracer, submissionID, "SEGMENTED", model.EventType(""), func() error {
		segments = segmenter.Segment(ocrResult.FullText, r.DefaultContactLines)
		return nil
	})

	// Stage 6: EXTRACTION_COMPLETE
	var extractOutcome extractor.Outcome
	err = r.withStage(ctx, tracer, submissionID, "EXTRACTION_COMPLETE", model.EventExtractionComplete, func() error {
		if analysis.FormLayout == "typed_form" {
			extractOutcome = r.Extractor.ExtractTypedForm(ocrResult.FullText, segments.ContactBlock)
			tracer.RuleApplied("typed_form_positional_extraction")
		} else {
			llmCtx := ctx
			if r.Deadlines.LLM > 0 {
				var cancel context.CancelFunc
				llmCtx, cancel = context.WithTimeout(ctx, r.Deadlines.LLM)
				defer cancel()
			}
			out, err := r.Extractor.ExtractLLMAssisted(llmCtx, ocrResult.FullText, segments.ContactBlock)
			if err != nil {
				return err
			}
			extractOutcome = out
			if extractOutcome.RuleBasedFallback {
				tracer.RuleApplied("extraction_error_fallback_to_positional")
			} else {
				tracer.RuleApplied("llm_assisted_extraction")
			}
			if extractOutcome.CacheHit {
				tracer.Emit(ctx, "system", model.EventCachedLLMResult, nil)
			}
		}
		for _, f := range extractOutcome.VerificationFailed {
			tracer.Signal("field_verification_failed: " + f)
		}
		if extractOutcome.SchoolNameFallback {
			tracer.RuleApplied("school_name_fallback")
		}
		if extractOutcome.GradeFallback {
			tracer.RuleApplied("grade_fallback")
		}
		return nil
	})
	if err != nil {
		return fail("EXTRACTION_COMPLETE", err)
	}
	rec.ExtractedFields = extractOutcome.Fields
	r.putArtifact(ctx, tracer, req.OwnerID, submissionID, "structured.json", marshalArtifact(extractOutcome.Fields))

	// Stage 7: CLASSIFIED
	var classifyResult classifier.Result
	_ = r.withStage(ctx, tracer, submissionID, "CLASSIFIED", model.EventType(""), func() error {
		classifyResult = classifier.Classify(analysis, ocrResult.FullText, extractOutcome.LLMProposedDocType)
		if classifyResult.Diverged {
			tracer.Signal(fmt.Sprintf("doc_type divergence: llm=%s code=%s", classifyResult.LLMProposed, classifyResult.DocClass))
		}
		return nil
	})
	rec.DocClass = classifyResult.DocClass

	// Stage 7.5: near-duplicate enrichment. Advisory only; never blocks
	// or replaces the exact-hash idempotency probe that Run performs
	// before any stage starts.
	var nearDupMatches []model.NearDuplicateMatch
	if extractOutcome.Fields.EssayText != nil {
		nearDupMatches = r.NearDuplicate.Check(ctx, req.OwnerID, submissionID, *extractOutcome.Fields.EssayText)
		for _, m := range nearDupMatches {
			tracer.Signal(fmt.Sprintf("near_duplicate candidate=%s similarity=%.4f", m.CandidateID, m.Similarity))
		}
	}

	// Stage 8: VALIDATION_COMPLETE
	var validateOutcome validator.Outcome
	_ = r.withStage(ctx, tracer, submissionID, "VALIDATION_COMPLETE", model.EventValidationComplete, func() error {
		candidates := []validator.EssayCandidate{
			{Source: "llm_essay_text", Text: derefOrEmpty(extractOutcome.Fields.EssayText)},
			{Source: "segmented_essay_block", Text: segments.EssayBlock},
			{Source: "raw_text_fallback", Text: stripKnownLabels(ocrResult.FullText)},
		}
		isTemplateOnly := isAllFieldsEmpty(extractOutcome.Fields)
		validateOutcome = validator.Validate(
			r.ValidationRules, extractOutcome.Fields, classifyResult.DocClass,
			ocrResult.ConfidenceAvg, ocrResult.OCRFailed, candidates, isTemplateOnly,
			nearDupMatches, r.Thresholds,
		)
		tracer.RuleApplied("best_essay_text:" + validateOutcome.ChosenEssaySource)
		return nil
	})
	rec.WordCount = validateOutcome.WordCount
	rec.NeedsReview = validateOutcome.NeedsReview
	rec.ReviewReasonCodes = validateOutcome.ReasonCodes
	if validateOutcome.ChosenEssayText != "" {
		chosen := validateOutcome.ChosenEssayText
		rec.ExtractedFields.EssayText = &chosen
	}
	r.putArtifact(ctx, tracer, req.OwnerID, submissionID, "validation.json", marshalArtifact(map[string]interface{}{
		"review_reason_codes": validateOutcome.ReasonCodes,
		"needs_review":        validateOutcome.NeedsReview,
		"word_count":          validateOutcome.WordCount,
		"chosen_essay_source": validateOutcome.ChosenEssaySource,
	}))

	// Stage 9: SAVED
	rec.Status = model.StatusPendingReview
	err = r.withStage(ctx, tracer, submissionID, "SAVED", model.EventSaved, func() error {
		if r.Records == nil {
			return nil
		}
		return callExternal(ctx, r.Deadlines.RecordStore, func(cctx context.Context) error {
			return r.Records.Upsert(cctx, rec)
		})
	})
	if err != nil {
		return fail("SAVED", err)
	}

	if r.PersistArtifacts {
		finalTrace := tracer.Trace()
		finalTrace.Outcome = "processed"
		r.putArtifact(ctx, tracer, req.OwnerID, submissionID, "audit_trace.json", marshalArtifact(finalTrace))
	}

	tracer.Finish(ctx, "processed")
	return rec, nil
}

// putArtifact writes one optional per-stage artifact under the
// submission's object-store prefix. Best-effort: a failed write leaves
// a signal on the trace and processing continues - the audit store is
// authoritative, artifacts are not.
func (r *Runner) putArtifact(ctx context.Context, tracer *audit.Writer, ownerID, submissionID, name string, data []byte) {
	if !r.PersistArtifacts || r.Objects == nil || data == nil {
		return
	}
	key := r.Objects.Key(ownerID, submissionID, name)
	err := callExternal(ctx, r.Deadlines.ObjectStore, func(context.Context) error {
		return r.Objects.Put(key, data)
	})
	if err != nil {
		tracer.Signal("artifact write failed: " + name + ": " + err.Error())
	}
}

func marshalArtifact(v interface{}) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

// withStage wraps one pipeline stage: on success it emits eventType
// (when non-empty) and records a signal; on failure it lets the caller
// decide how to finalize the trace.
func (r *Runner) withStage(ctx context.Context, tracer *audit.Writer, submissionID, stage string, eventType model.EventType, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError(submissionID, stage)
	}
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	tracer.Signal(fmt.Sprintf("%s completed in %s", stage, time.Since(start)))
	if eventType != "" {
		tracer.Emit(ctx, "system", eventType, map[string]interface{}{"stage": stage})
	}
	return nil
}

func classifyErrorCode(stage string) errors.ErrorCode {
	switch stage {
	case "ANALYZED":
		return errors.ErrorAnalysis
	case "OCR_COMPLETE":
		return errors.ErrorOCR
	case "EXTRACTION_COMPLETE":
		return errors.ErrorExtraction
	case "CLASSIFIED":
		return errors.ErrorClassification
	case "VALIDATION_COMPLETE":
		return errors.ErrorValidation
	case "SAVED":
		return errors.ErrorRecord
	case "INGESTED":
		return errors.ErrorStorage
	default:
		return errors.ErrorInput
	}
}

var imageFilenameExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true, ".gif": true,
}

// isImageFilename mirrors the Document Analyzer's own image-extension
// check so the OCR stage calls the matching
// Capability operation for the source kind.
func isImageFilename(filename string) bool {
	return imageFilenameExts[strings.ToLower(filepath.Ext(filename))]
}

func fingerprint(fileBytes []byte) string {
	return ids.ParentID(fileBytes)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isAllFieldsEmpty(f model.ExtractedFields) bool {
	return f.StudentName == nil && f.SchoolName == nil && f.Grade == nil &&
		f.TeacherName == nil && f.FatherFigureName == nil && f.Phone == nil &&
		f.Email == nil && f.CityOrLocation == nil
}

var knownLabels = []string{
	"student's name", "nombre del estudiante", "school", "escuela",
	"grade", "grado", "teacher", "maestro", "maestra",
	"father-figure name", "father figure name", "phone", "telefono", "teléfono",
	"email", "correo", "city", "ciudad",
}

// stripKnownLabels is the raw-text fallback candidate for "best essay
// text": the full OCR text with recognized form-label lines removed.
func stripKnownLabels(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		lower := strings.ToLower(line)
		isLabel := false
		for _, label := range knownLabels {
			if strings.HasPrefix(strings.TrimSpace(lower), label) {
				isLabel = true
				break
			}
		}
		if !isLabel {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
