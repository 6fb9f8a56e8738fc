package contract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehranchor/internal/domain"
	"ehranchor/model"
)

func registerPatient(t *testing.T, ctx *fakeContext, patientID string) *model.PatientReference {
	t.Helper()
	out, err := NewAdminContract(nil).RegisterPatient(ctx, patientID, "Org1MSP")
	require.NoError(t, err)
	var ref model.PatientReference
	require.NoError(t, json.Unmarshal([]byte(out), &ref))
	return &ref
}

func TestRegisterPatient(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	ref := registerPatient(t, ctx, "P1")

	assert.Equal(t, model.PatientRefObjectType, ref.Type)
	assert.Equal(t, "P1", ref.PatientID)
	assert.Equal(t, "Org1MSP", ref.OwnerOrg)
	assert.Nil(t, ref.LatestCid)
	assert.Nil(t, ref.LatestDocHash)
	assert.Nil(t, ref.Mime)
	assert.Nil(t, ref.Size)
	assert.Equal(t, "2024-03-01T09:00:01.500Z", ref.CreatedAt)
	assert.Equal(t, ref.CreatedAt, ref.UpdatedAt)
	assert.Contains(t, ctx.stub.events, model.EventPatientRegistered)
}

func TestRegisterPatient_NullFieldsSerialized(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	out, err := NewAdminContract(nil).RegisterPatient(ctx, "P1", "Org1MSP")
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	for _, field := range []string{"latestCid", "latestDocHash", "mime", "size"} {
		v, ok := raw[field]
		assert.True(t, ok, field)
		assert.Nil(t, v, field)
	}
}

func TestRegisterPatient_Duplicate(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	first := registerPatient(t, ctx, "P1")
	before := string(ctx.stub.state["\x00patientRef\x00P1\x00"])

	ctx.stub.begin()
	_, err := NewAdminContract(nil).RegisterPatient(ctx, "P1", "Org2MSP")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	assert.Equal(t, before, string(ctx.stub.state["\x00patientRef\x00P1\x00"]))
	assert.Equal(t, "Org1MSP", first.OwnerOrg)
}

func TestRegisterPatient_InvalidInput(t *testing.T) {
	c := NewAdminContract(nil)
	ctx := newFakeContext("Org1MSP")

	_, err := c.RegisterPatient(ctx, "  ", "Org1MSP")
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))

	_, err = c.RegisterPatient(ctx, "P1", "")
	assert.True(t, errors.Is(err, domain.ErrMalformedInput))
}

func TestAdminContract_Unauthorized(t *testing.T) {
	c := NewAdminContract(nil)
	ctx := newFakeContext("Org3MSP")

	_, err := c.RegisterPatient(ctx, "P1", "Org3MSP")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = c.ReadPatient(ctx, "P1")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	assert.Zero(t, ctx.stub.accesses)
	assert.Empty(t, ctx.stub.state)
}

func TestAdminContract_UnauthorizedDoesNotLeakExistence(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	registerPatient(t, ctx, "P1")

	c := NewAdminContract(nil)
	_, errExisting := c.ReadPatient(ctx.as("Org9MSP"), "P1")
	_, errMissing := c.ReadPatient(ctx.as("Org9MSP"), "P2")
	require.Error(t, errExisting)
	require.Error(t, errMissing)
	assert.Equal(t,
		errExisting.Error(),
		errMissing.Error(),
	)
}

func TestAdminContract_CustomPolicy(t *testing.T) {
	c := NewAdminContract(NewMSPAllowList("HospitalMSP"))

	_, err := c.RegisterPatient(newFakeContext("Org1MSP"), "P1", "Org1MSP")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = c.RegisterPatient(newFakeContext("HospitalMSP"), "P1", "HospitalMSP")
	assert.NoError(t, err)
}

func TestReadPatient(t *testing.T) {
	ctx := newFakeContext("Org2MSP")
	registered := registerPatient(t, ctx, "P1")

	out, err := NewAdminContract(nil).ReadPatient(ctx, "P1")
	require.NoError(t, err)
	var ref model.PatientReference
	require.NoError(t, json.Unmarshal([]byte(out), &ref))
	assert.Equal(t, *registered, ref)

	_, err = NewAdminContract(nil).ReadPatient(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHistory(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	registerPatient(t, ctx, "P1")
	doctor := NewDoctorContract(nil)

	ctx.stub.begin()
	_, err := doctor.UpdatePatientMedicalDetails(ctx, "P1", "cid-1", "hash-1", "text/plain", "11")
	require.NoError(t, err)
	ctx.stub.begin()
	_, err = doctor.UpdatePatientMedicalDetails(ctx, "P1", "cid-2", "hash-2", "application/pdf", "2048")
	require.NoError(t, err)

	out, err := NewAdminContract(nil).History(ctx.as("Org9MSP"), "P1")
	require.NoError(t, err)

	var records []model.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 3)

	assert.Equal(t, "tx0001", records[0].TxID)
	assert.Nil(t, records[0].LatestCid)
	assert.Equal(t, "cid-1", model.StringValue(records[1].LatestCid))
	assert.Equal(t, "11", model.StringValue(records[1].Size))
	assert.Equal(t, "cid-2", model.StringValue(records[2].LatestCid))
	assert.Equal(t, "application/pdf", model.StringValue(records[2].Mime))

	for i := 1; i < len(records); i++ {
		assert.True(t, records[i-1].Timestamp <= records[i].Timestamp)
	}
	for _, r := range records {
		assert.Equal(t, r.Timestamp, model.StringValue(r.UpdatedAt))
	}
	assert.Equal(t, ctx.stub.openIterators, ctx.stub.closeIterators)
}

func TestHistory_Empty(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	out, err := NewAdminContract(nil).History(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestHistory_ToleratesUnparseableEntries(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	registerPatient(t, ctx, "P1")
	key := "\x00patientRef\x00P1\x00"

	ctx.stub.begin()
	require.NoError(t, ctx.stub.PutState(key, []byte("not json")))

	out, err := NewAdminContract(nil).History(ctx, "P1")
	require.NoError(t, err)
	var records []model.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "tx0002", records[1].TxID)
	assert.Nil(t, records[1].LatestCid)
	assert.Nil(t, records[1].UpdatedAt)
}

func TestHistory_ReleasesIteratorOnError(t *testing.T) {
	ctx := newFakeContext("Org1MSP")
	registerPatient(t, ctx, "P1")
	ctx.stub.historyFailAt = 1

	_, err := NewAdminContract(nil).History(ctx, "P1")
	require.Error(t, err)
	assert.Equal(t, 1, ctx.stub.openIterators)
	assert.Equal(t, 1, ctx.stub.closeIterators)

	ctx.stub.historyErr = errors.New("history database disabled")
	_, err = NewAdminContract(nil).History(ctx, "P1")
	assert.Error(t, err)
	assert.Equal(t, 1, ctx.stub.closeIterators)
}
