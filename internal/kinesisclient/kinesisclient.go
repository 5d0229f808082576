// Package kinesisclient wraps the AWS SDK's Kinesis PutRecords API,
// reporting per-record outcomes so the publisher (C6) can retry only
// the records a batch failed on rather than the whole batch.
package kinesisclient

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// Record is one outbound event, already reduced to its wire form.
type Record struct {
	PartitionKey string
	Data         []byte
}

// Outcome reports, per submitted record (same order as the input
// slice), whether it succeeded and why it didn't.
type Outcome struct {
	Failed       bool
	ErrorCode    string
	ErrorMessage string
}

// Client is the narrow surface the publisher depends on.
type Client interface {
	PutRecords(streamName string, records []Record) ([]Outcome, error)
}

type sdkClient struct {
	kc *kinesis.Kinesis
}

// New builds a Client from an AWS region, using the SDK's standard
// credential chain (environment, shared config, instance role).
func New(region string) (Client, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("kinesisclient: new session: %w", err)
	}
	return &sdkClient{kc: kinesis.New(sess)}, nil
}

// PutRecords submits records to streamName in a single PutRecords call
// and returns an Outcome per record. A non-nil error means the whole
// call failed (network, auth, throttling at the call level); a partial
// per-record failure is reported through Outcome, not the error.
func (c *sdkClient) PutRecords(streamName string, records []Record) ([]Outcome, error) {
	entries := make([]*kinesis.PutRecordsRequestEntry, len(records))
	for i, r := range records {
		entries[i] = &kinesis.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(r.PartitionKey),
		}
	}

	out, err := c.kc.PutRecords(&kinesis.PutRecordsInput{
		StreamName: aws.String(streamName),
		Records:    entries,
	})
	if err != nil {
		return nil, fmt.Errorf("kinesisclient: put records: %w", err)
	}

	return mapOutcomes(out.Records), nil
}

// mapOutcomes translates the SDK's per-record result entries (an
// ErrorCode/ErrorMessage pair set only on failure) into Outcome.
func mapOutcomes(results []*kinesis.PutRecordsResultEntry) []Outcome {
	outcomes := make([]Outcome, len(results))
	for i, rr := range results {
		if rr.ErrorCode != nil {
			outcomes[i] = Outcome{
				Failed:       true,
				ErrorCode:    aws.StringValue(rr.ErrorCode),
				ErrorMessage: aws.StringValue(rr.ErrorMessage),
			}
		}
	}
	return outcomes
}
