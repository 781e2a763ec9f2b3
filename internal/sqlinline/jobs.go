package sqlinline

// Every statement starts with a "--sql <uuid>" marker line; infra.SQLRunner
// refuses unmarked queries and logs by marker.

const QCreateJobsTable = `--sql 8e23355d-2434-4f1c-8789-6e18d9fd559b
create table if not exists page_jobs (
    id              uuid primary key,
    status          text        not null default 'pending',
    current_stage   int         not null default 1,
    request_payload jsonb       not null,
    html_snapshot   text        not null default '',
    stage_log       jsonb       not null default '[]'::jsonb,
    error_message   text        not null default '',
    lock_token      text,
    locked_until    timestamptz,
    created_at      timestamptz not null default now(),
    updated_at      timestamptz not null default now(),
    completed_at    timestamptz,
    constraint page_jobs_status_chk check (status in ('pending', 'processing', 'completed', 'failed')),
    constraint page_jobs_stage_chk check (current_stage between 1 and 3)
);
`

const QInsertJob = `--sql e6e0cadd-ce8b-4d2b-b251-384b07e9b056
insert into page_jobs (id, status, current_stage, request_payload, html_snapshot, stage_log, error_message, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, '', $7, $7);
`

const QSelectJob = `--sql d05a9ff0-3d25-4bef-8293-4c5ca8b9f4cd
select id::text, status, current_stage, request_payload, html_snapshot, stage_log, error_message,
       coalesce(lock_token, ''), locked_until, created_at, updated_at, completed_at
from page_jobs
where id = $1;
`

// QAcquireJobLock is a compare-and-set on the lease: exactly one concurrent
// caller gets a row back.
const QAcquireJobLock = `--sql 753a5a13-5e47-42f8-862a-a4013613931a
update page_jobs
set lock_token   = $2,
    locked_until = $3,
    status       = case when status = 'pending' then 'processing' else status end,
    updated_at   = $4
where id = $1
  and status in ('pending', 'processing')
  and (lock_token is null or locked_until is null or locked_until <= $4)
returning id::text, status, current_stage, request_payload, html_snapshot, stage_log, error_message,
          coalesce(lock_token, ''), locked_until, created_at, updated_at, completed_at;
`

const QSaveJobProgress = `--sql b7cd2e77-fe71-4a24-adc0-cbdfc159013d
update page_jobs
set current_stage = greatest(current_stage, $3),
    html_snapshot = $4,
    stage_log     = $5,
    locked_until  = coalesce($6, locked_until),
    updated_at    = now()
where id = $1
  and lock_token = $2
  and status in ('pending', 'processing');
`

const QFinishJob = `--sql 0346db1c-8a68-4a25-bee6-a56e89677d02
update page_jobs
set status        = $3,
    current_stage = greatest(current_stage, $4),
    html_snapshot = $5,
    stage_log     = $6,
    error_message = $7,
    completed_at  = $8,
    updated_at    = $8,
    lock_token    = null,
    locked_until  = null
where id = $1
  and lock_token = $2
  and status in ('pending', 'processing');
`

const QReleaseJobLock = `--sql a4850446-a95d-4fda-b023-4f926506f07d
update page_jobs
set lock_token = null, locked_until = null, updated_at = now()
where id = $1
  and lock_token = $2;
`
