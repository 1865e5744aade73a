// Package s3server wires the storage backend, the access-control
// decision engine, and the key-management service together behind an
// S3-subset HTTP surface plus a JSON-over-HTTP KMS surface.
package s3server

import (
	"encoding/xml"
	"time"
)

// s3Time formats a time.Time the way S3's XML responses expect it.
type s3Time time.Time

func (t s3Time) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(time.Time(t).UTC().Format("2006-01-02T15:04:05.000Z"), start)
}

type xmlOwner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type listAllMyBucketsResult struct {
	XMLName xml.Name     `xml:"ListAllMyBucketsResult"`
	Xmlns   string       `xml:"xmlns,attr"`
	Owner   xmlOwner     `xml:"Owner"`
	Buckets []xmlBucket  `xml:"Buckets>Bucket"`
}

type xmlBucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type xmlContent struct {
	Key          string `xml:"Key"`
	LastModified s3Time `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type xmlCommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listBucketResult struct {
	XMLName        xml.Name          `xml:"ListBucketResult"`
	Xmlns          string            `xml:"xmlns,attr"`
	Name           string            `xml:"Name"`
	Prefix         string            `xml:"Prefix"`
	Marker         string            `xml:"Marker,omitempty"`
	ContinuationToken string         `xml:"ContinuationToken,omitempty"`
	NextMarker     string            `xml:"NextMarker,omitempty"`
	NextContinuationToken string     `xml:"NextContinuationToken,omitempty"`
	Delimiter      string            `xml:"Delimiter,omitempty"`
	MaxKeys        int               `xml:"MaxKeys"`
	IsTruncated    bool              `xml:"IsTruncated"`
	Contents       []xmlContent      `xml:"Contents"`
	CommonPrefixes []xmlCommonPrefix `xml:"CommonPrefixes,omitempty"`
}

type xmlVersionEntry struct {
	Key          string `xml:"Key"`
	VersionID    string `xml:"VersionId"`
	IsLatest     bool   `xml:"IsLatest"`
	LastModified s3Time `xml:"LastModified"`
	ETag         string `xml:"ETag,omitempty"`
	Size         int64  `xml:"Size"`
}

type listVersionsResult struct {
	XMLName     xml.Name          `xml:"ListVersionsResult"`
	Xmlns       string            `xml:"xmlns,attr"`
	Name        string            `xml:"Name"`
	Prefix      string            `xml:"Prefix"`
	IsTruncated bool              `xml:"IsTruncated"`
	Version     []xmlVersionEntry `xml:"Version"`
	DeleteMarker []xmlVersionEntry `xml:"DeleteMarker,omitempty"`
}

type createBucketConfiguration struct {
	XMLName           xml.Name `xml:"CreateBucketConfiguration"`
	LocationConstraint string  `xml:"LocationConstraint"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completeMultipartUpload struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

const s3Xmlns = "http://s3.amazonaws.com/doc/2006-03-01/"
