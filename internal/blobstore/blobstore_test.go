package blobstore

import (
	"testing"
	"time"
)

func TestBuildKey(t *testing.T) {
	start := time.Date(2026, 2, 28, 23, 59, 30, 0, time.UTC)
	got := BuildKey(start, "countyso", 5210, ".mp3")
	want := "2026/02/28/23/20260228_235930_countyso_5210.mp3"
	if got != want {
		t.Errorf("BuildKey = %q, want %q", got, want)
	}
}

func TestBuildKeyConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	start := time.Date(2026, 1, 1, 0, 30, 0, 0, loc) // 05:30 UTC
	got := BuildKey(start, "countyso", 1, "mp3")
	want := "2026/01/01/05/20260101_053000_countyso_1.mp3"
	if got != want {
		t.Errorf("BuildKey = %q, want %q", got, want)
	}
}

func TestContentTypeForName(t *testing.T) {
	cases := map[string]string{
		"call.mp3":       "audio/mpeg",
		"call.WAV":       "audio/wav",
		"call.m4a":       "audio/mp4",
		"call.ogg":       "audio/ogg",
		"call.unknown":   "audio/mpeg",
		"noextension":    "audio/mpeg",
	}
	for name, want := range cases {
		if got := ContentTypeForName(name); got != want {
			t.Errorf("ContentTypeForName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestS3StoreURLPrefersPublicBaseURL(t *testing.T) {
	s := &S3Store{cfg: Config{
		Bucket:        "calls",
		Region:        "us-east-1",
		PublicBaseURL: "https://cdn.example.com/",
	}}
	got := s.URL("2026/01/01/00/x.mp3")
	want := "https://cdn.example.com/2026/01/01/00/x.mp3"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestS3StoreURLUsesEndpointWhenSet(t *testing.T) {
	s := &S3Store{cfg: Config{
		Bucket:   "calls",
		Region:   "us-east-1",
		Endpoint: "https://minio.local",
	}}
	got := s.URL("x.mp3")
	want := "https://minio.local/calls/x.mp3"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestS3StoreURLFallsBackToAWSVirtualHost(t *testing.T) {
	s := &S3Store{cfg: Config{Bucket: "calls", Region: "us-west-2"}}
	got := s.URL("x.mp3")
	want := "https://calls.s3.us-west-2.amazonaws.com/x.mp3"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}
