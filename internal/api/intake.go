package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snarg/callscribe/internal/blobstore"
	"github.com/snarg/callscribe/internal/calljob"
	"github.com/snarg/callscribe/internal/metadata"
)

// minAudioBytes is the size of a WAV file with nothing but its header:
// anything at or below this has no audio samples in it.
const minAudioBytes = 44

const maxUploadMemory = 32 << 20

// handleCalls implements POST /calls: a multipart form carrying the
// call's metadata as call_json plus its audio, either inline as
// call_audio or already staged somewhere reachable as call_audio_url.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	rawMetadata := []byte(r.FormValue("call_json"))
	if len(rawMetadata) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "missing call_json field")
		return
	}

	var call metadata.Call
	if err := json.Unmarshal(rawMetadata, &call); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid call_json: "+err.Error())
		return
	}
	if err := call.Valid(); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}
	if call.CallLength < s.minCallLength {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrCallTooShort, "call_length below MIN_CALL_LENGTH")
		return
	}

	var audioData []byte
	var audioFilename string
	if file, header, err := r.FormFile("call_audio"); err == nil {
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			WriteError(w, http.StatusBadRequest, "failed to read call_audio")
			return
		}
		audioData = data
		audioFilename = header.Filename
	}
	audioURL := r.FormValue("call_audio_url")

	finalAudioURL, ok := s.resolveAudio(w, r.Context(), call, audioData, audioFilename, audioURL)
	if !ok {
		return
	}

	s.publishAndRespond(w, r.Context(), calljob.DeriveID(rawMetadata), calljob.Job{
		AudioURL:              finalAudioURL,
		WhisperImplementation: r.FormValue("whisper_implementation"),
		Prompt:                r.FormValue("prompt"),
		Metadata:              call,
	})
}

// handleCallUpload implements POST /api/call-upload: the
// rdio-scanner-compatible form SDRTrunk's broadcast feature and
// trunk-recorder's upload script both speak. Unlike /calls there is no
// call_json blob; the call's metadata rides as individual form fields.
func (s *Server) handleCallUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	talkgroup, err := strconv.Atoi(r.FormValue("talkgroup"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "talkgroup must be an integer")
		return
	}
	startTime := parseUnixOrNow(r.FormValue("dateTime"))
	freq, _ := strconv.ParseInt(r.FormValue("frequency"), 10, 64)

	call := metadata.Call{
		ShortName:    r.FormValue("system"),
		Talkgroup:    talkgroup,
		TalkgroupTag: r.FormValue("talkgroupLabel"),
		StartTime:    startTime,
		StopTime:     startTime,
		Freq:         freq,
		AudioType:    metadata.AudioDigital,
		// rdio-scanner's upload form carries no source-list detail, so
		// synthesize the single transmission Valid() and the Radio-Type
		// Shaper both expect for a digital call.
		SrcList: []metadata.SrcListItem{{Src: 0, Time: startTime, Pos: 0}},
	}
	if call.ShortName == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "missing system field")
		return
	}
	if err := call.Valid(); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusExpectationFailed, ErrAudioMissing, "missing audio field")
		return
	}
	defer file.Close()
	data, readErr := io.ReadAll(file)
	if readErr != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	finalAudioURL, ok := s.resolveAudio(w, r.Context(), call, data, header.Filename, "")
	if !ok {
		return
	}

	rawMetadata, err := call.MarshalRaw()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to encode call metadata")
		return
	}

	s.publishAndRespond(w, r.Context(), calljob.DeriveID(rawMetadata), calljob.Job{
		AudioURL: finalAudioURL,
		Metadata: call,
	})
}

// handleEphemeralTask implements POST /tasks: a transcription request
// whose call record is never written to the call store. The job still
// flows through the same broker subject the Worker Runtime consumes
// from; IndexName is left set to the configured default and nothing
// distinguishes this job's record from a persisted one once it reaches
// the call store, since calljob.Job carries no ephemeral flag. A real
// no-persistence path would need that flag threaded through the Worker
// Runtime's persist step, which is out of this stub's scope.
func (s *Server) handleEphemeralTask(w http.ResponseWriter, r *http.Request) {
	var call metadata.Call
	if err := DecodeJSON(r, &call); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, err.Error())
		return
	}
	if err := call.Valid(); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	audioURL := r.URL.Query().Get("audio_url")
	if audioURL == "" {
		WriteErrorWithCode(w, http.StatusExpectationFailed, ErrAudioMissing, "missing audio_url")
		return
	}

	// Unlike /calls and /api/call-upload, an ephemeral task has no
	// content worth hashing for idempotency: re-submitting the same
	// body against the same audio_url is how a caller asks for a fresh
	// retranscribe, not an accidental duplicate.
	s.publishAndRespond(w, r.Context(), uuid.NewString(), calljob.Job{
		AudioURL:              audioURL,
		WhisperImplementation: r.URL.Query().Get("whisper_implementation"),
		Prompt:                r.URL.Query().Get("prompt"),
		Metadata:              call,
	})
}

// handleGetTask implements GET /tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.tasks.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown task")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// resolveAudio uploads inline audio to blob storage, or passes a
// caller-supplied URL through unchanged. It writes the 417 response
// itself and returns ok=false when audio is missing or empty.
func (s *Server) resolveAudio(w http.ResponseWriter, ctx context.Context, call metadata.Call, audioData []byte, audioFilename, audioURL string) (string, bool) {
	if len(audioData) > 0 {
		if len(audioData) <= minAudioBytes {
			WriteErrorWithCode(w, http.StatusExpectationFailed, ErrAudioMissing, "audio file is empty")
			return "", false
		}
		ext := strings.TrimPrefix(filepath.Ext(audioFilename), ".")
		if ext == "" {
			ext = "wav"
		}
		key := blobstore.BuildKey(time.Unix(call.StartTime, 0), call.ShortName, call.Talkgroup, ext)
		url, err := s.blobs.Put(ctx, key, audioData, blobstore.ContentTypeForName(audioFilename))
		if err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("failed to store call audio")
			WriteError(w, http.StatusInternalServerError, "failed to store audio")
			return "", false
		}
		return url, true
	}
	if audioURL != "" {
		return audioURL, true
	}
	WriteErrorWithCode(w, http.StatusExpectationFailed, ErrAudioMissing, "missing call audio")
	return "", false
}

// publishAndRespond encodes and publishes job, records its task, and
// writes the {"task_id": ...} response the intake surface promises.
func (s *Server) publishAndRespond(w http.ResponseWriter, ctx context.Context, taskID string, job calljob.Job) {
	job.ID = ""
	rec := s.tasks.Create(taskID)

	data, err := job.Encode()
	if err != nil {
		s.tasks.MarkFailed(taskID, err.Error())
		WriteError(w, http.StatusInternalServerError, "failed to encode job")
		return
	}

	subject := "calls.transcribe"
	if err := s.broker.Publish(ctx, subject, data); err != nil {
		s.log.Error().Err(err).Msg("failed to publish job")
		s.tasks.MarkFailed(taskID, err.Error())
		WriteError(w, http.StatusServiceUnavailable, "failed to queue job")
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		TaskID string `json:"task_id"`
	}{TaskID: rec.ID})
}

func parseUnixOrNow(v string) int64 {
	if v == "" {
		return time.Now().Unix()
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now().Unix()
	}
	return n
}
