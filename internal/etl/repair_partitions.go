package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/sirupsen/logrus"
)

type Resp struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

// PartitionRepairer registers new dt/shop_id partitions with MSCK REPAIR.
type PartitionRepairer struct {
	Athena    AthenaAPI
	Database  string
	Table     string
	Workgroup string
	Output    string // s3://bucket/prefix/

	Timeout      time.Duration
	PollInterval time.Duration
	Log          *logrus.Logger
}

func (r *PartitionRepairer) Run(ctx context.Context) (Resp, error) {
	workgroup := r.Workgroup
	if workgroup == "" {
		workgroup = "primary"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	startOut, err := r.Athena.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s;", r.Table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(r.Database),
		},
		WorkGroup: aws.String(workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(r.Output),
		},
	})
	if err != nil {
		return Resp{Ok: false}, fmt.Errorf("StartQueryExecution: %w", err)
	}

	qid := aws.ToString(startOut.QueryExecutionId)
	log.WithFields(logrus.Fields{"qid": qid, "db": r.Database, "table": r.Table, "wg": workgroup}).Info("repair started")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		st, err := r.Athena.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return Resp{Ok: false, QueryID: qid}, fmt.Errorf("GetQueryExecution: %w", err)
		}
		var state athenatypes.QueryExecutionState
		var reason string
		if st.QueryExecution != nil && st.QueryExecution.Status != nil {
			state = st.QueryExecution.Status.State
			reason = aws.ToString(st.QueryExecution.Status.StateChangeReason)
		}
		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			log.WithField("qid", qid).Info("repair succeeded")
			return Resp{
				Ok:        true,
				QueryID:   qid,
				State:     string(state),
				Database:  r.Database,
				Table:     r.Table,
				Workgroup: workgroup,
				Output:    r.Output,
			}, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return Resp{Ok: false, QueryID: qid, State: string(state)}, fmt.Errorf("repair %s: %s", state, reason)
		}

		select {
		case <-ctx.Done():
			return Resp{Ok: false, QueryID: qid, State: "TIMEOUT"}, fmt.Errorf("repair timed out waiting for qid=%s", qid)
		case <-ticker.C:
		}
	}
}
