// Package search is the Search Indexer collaborator: it turns a call's
// metadata, audio URL, and transcript into a flattened document, keeps
// index settings in sync across two pluggable backends, and hands back
// the deep-link URL a notification points a human at.
package search

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/callscribe/internal/metadata"
)

// Document is the flattened, denormalized projection written to the
// search engine. Its id always equals the originating call id, and
// writing the same id twice is an upsert, never a duplicate.
type Document struct {
	ID        string `json:"id"`
	StartTime int64  `json:"start_time"`
	StopTime  int64  `json:"stop_time"`

	Freq                 int64   `json:"freq"`
	CallLength           float64 `json:"call_length"`
	Talkgroup            int     `json:"talkgroup"`
	TalkgroupTag         string  `json:"talkgroup_tag"`
	TalkgroupDescription string  `json:"talkgroup_description"`
	TalkgroupGroupTag    string  `json:"talkgroup_group_tag"`
	TalkgroupGroup       string  `json:"talkgroup_group"`

	TalkgroupHierarchyLvl0 string `json:"talkgroup_hierarchy_lvl0"`
	TalkgroupHierarchyLvl1 string `json:"talkgroup_hierarchy_lvl1"`
	TalkgroupHierarchyLvl2 string `json:"talkgroup_hierarchy_lvl2"`

	AudioType string `json:"audio_type"`
	ShortName string `json:"short_name"`

	Units   []string `json:"units"`
	Radios  []string `json:"radios"`
	SrcList []string `json:"srcList"`

	Transcript          string `json:"transcript"`
	TranscriptPlaintext string `json:"transcript_plaintext"`
	RawTranscript        string `json:"raw_transcript"`
	RawMetadata          string `json:"raw_metadata"`
	RawAudioURL          string `json:"raw_audio_url"`

	Geo                 *GeoPoint `json:"_geo,omitempty"`
	GeoFormattedAddress string    `json:"geo_formatted_address,omitempty"`
}

// GeoPoint is a latitude/longitude pair, set only when the worker
// managed to geocode an address out of the transcript.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BuildDocument derives a Document from a call's metadata, its stored
// audio URL, and the transcript the worker produced. id is the call
// store row's id, stringified, since search engines treat document ids
// as opaque strings.
func BuildDocument(id string, call metadata.Call, rawAudioURL string, tr *metadata.Transcript, geo *GeoPoint, geoAddress string) (Document, error) {
	rawMetadata, err := call.MarshalRaw()
	if err != nil {
		return Document{}, fmt.Errorf("search: marshal metadata for document %s: %w", id, err)
	}
	rawTranscript, err := tr.Raw()
	if err != nil {
		return Document{}, fmt.Errorf("search: marshal transcript for document %s: %w", id, err)
	}

	var units, radios, srcList []string
	seenUnit, seenRadio, seenSrcList := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, src := range call.SrcList {
		if src.Src <= 0 {
			continue
		}
		radio := strconv.Itoa(src.Src)
		if !seenRadio[radio] {
			seenRadio[radio] = true
			radios = append(radios, radio)
		}
		entry := radio
		if src.Tag != "" {
			entry = src.Tag
			if !seenUnit[src.Tag] {
				seenUnit[src.Tag] = true
				units = append(units, src.Tag)
			}
		}
		if !seenSrcList[entry] {
			seenSrcList[entry] = true
			srcList = append(srcList, entry)
		}
	}

	doc := Document{
		ID:                   id,
		StartTime:            call.StartTime,
		StopTime:             call.StopTime,
		Freq:                 call.Freq,
		CallLength:           call.CallLength,
		Talkgroup:            call.Talkgroup,
		TalkgroupTag:         call.TalkgroupTag,
		TalkgroupDescription: call.TalkgroupDescription,
		TalkgroupGroupTag:    call.TalkgroupGroupTag,
		TalkgroupGroup:       call.TalkgroupGroup,

		TalkgroupHierarchyLvl0: call.ShortName,
		TalkgroupHierarchyLvl1: call.ShortName + " > " + call.TalkgroupGroup,
		TalkgroupHierarchyLvl2: call.ShortName + " > " + call.TalkgroupGroup + " > " + call.TalkgroupTag,

		AudioType: string(call.AudioType),
		ShortName: call.ShortName,

		Units:   orEmpty(units),
		Radios:  orEmpty(radios),
		SrcList: orEmpty(srcList),

		Transcript:          tr.HTML(),
		TranscriptPlaintext: tr.Text(),
		RawTranscript:       string(rawTranscript),
		RawMetadata:         string(rawMetadata),
		RawAudioURL:         rawAudioURL,
	}
	if geo != nil {
		doc.Geo = geo
		doc.GeoFormattedAddress = geoAddress
	}
	return doc, nil
}

// orEmpty normalizes a nil slice to an empty, non-nil one so the
// engine always receives "[]" rather than "null" for list fields.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MarshalJSON encodes the document with its struct tags, through an
// alias type so the encoder does not call MarshalJSON again.
func (d Document) MarshalJSON() ([]byte, error) {
	type alias Document
	return json.Marshal(alias(d))
}

// DeepLinkURL builds the search UI deep link for a document: a
// descending start_time sort, a 60-hit page, a talkgroup refinement,
// and a -20/+10 minute window around the call, anchored with a
// "hit-<id>" fragment so the UI can scroll straight to it.
func DeepLinkURL(baseURL, indexName string, doc Document) string {
	if baseURL == "" {
		return ""
	}
	prefix := indexName + "["
	values := url.Values{}
	values.Set(prefix+"sortBy]", indexName+":start_time:desc")
	values.Set(prefix+"hitsPerPage]", "60")
	values.Set(prefix+"refinementList][talkgroup_tag][0]", doc.TalkgroupTag)
	values.Set(prefix+"range][start_time]",
		strconv.FormatInt(doc.StartTime-20*60, 10)+":"+strconv.FormatInt(doc.StartTime+10*60, 10))

	return fmt.Sprintf("%s?%s#hit-%s", strings.TrimRight(baseURL, "/"), values.Encode(), doc.ID)
}

// IndexNameFor derives the index a call's document belongs in, given
// the base name and whether monthly sharding is enabled.
func IndexNameFor(base string, splitByMonth bool, startTime time.Time) string {
	if !splitByMonth {
		return base
	}
	return base + startTime.UTC().Format("_2006_01")
}
