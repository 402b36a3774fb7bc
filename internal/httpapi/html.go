package httpapi

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Pose Coach</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .stat { font-size: 28px; font-weight: bold; }
        .muted { color: #999; font-size: 13px; }
        img { width: 100%; background: #000; }
        button, select { padding: 6px 10px; margin-right: 6px; }
        pre { white-space: pre-wrap; font-size: 12px; }
    </style>
</head>
<body>
<div class="app">
    <h1>Pose Coach</h1>
    <div style="margin-bottom:12px;">
        <select id="exercise"></select>
        <input id="height" type="number" placeholder="height cm" style="width:100px;">
        <button id="btn-start">Start</button>
        <button id="btn-feedback">Feedback on</button>
        <button id="btn-pause">Pause</button>
        <button id="btn-stop">Stop</button>
        <span class="muted" id="session-id"></span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" alt="Skeleton overlay">
        </div>
        <div class="panel">
            <div class="muted">Stage</div><div class="stat" id="stage">-</div>
            <div class="muted">Reps</div><div class="stat" id="reps">0</div>
            <div class="muted">Angle</div><div class="stat" id="angle">-</div>
            <div class="muted">Coverage</div><div id="coverage">-</div>
            <div class="muted">Advice</div><div id="advice">-</div>
            <div class="muted">Coach</div><pre id="feedback">-</pre>
        </div>
    </div>
</div>
<script>
let ws = null;
let feedbackOn = false;
let paused = false;
const $ = (id) => document.getElementById(id);

fetch('/api/exercises').then(r => r.json()).then(d => {
    for (const ex of d.exercises) {
        const o = document.createElement('option');
        o.value = ex.name; o.textContent = ex.display_name || ex.name;
        $('exercise').appendChild(o);
    }
});

function send(msg) { if (ws) ws.send(JSON.stringify(msg)); }

$('btn-start').onclick = () => {
    if (ws) ws.close();
    const q = new URLSearchParams({exercise: $('exercise').value});
    if ($('height').value) q.set('height_cm', $('height').value);
    const proto = location.protocol === 'https:' ? 'wss' : 'ws';
    ws = new WebSocket(proto + '://' + location.host + '/ws/pose?' + q);
    ws.onmessage = (ev) => {
        const m = JSON.parse(ev.data);
        if (m.type === 'session') {
            $('session-id').textContent = m.session.id;
            $('stream').src = '/stream?session=' + m.session.id;
            return;
        }
        if (m.type === 'ack' || m.type === 'error') {
            if (m.error) $('advice').textContent = m.error;
            return;
        }
        $('stage').textContent = m.exercise.stage;
        $('reps').textContent = m.exercise.rep_count;
        $('angle').textContent = m.exercise.angle == null ? '-' : m.exercise.angle;
        $('coverage').textContent = m.coverage.state + ' (' + m.coverage.score.toFixed(2) + ')';
        $('advice').textContent = m.advice || '-';
        if (m.feedback) {
            $('feedback').textContent = m.feedback.feedback + '\n' + (m.feedback.tips || []).join('\n');
        }
    };
    ws.onclose = () => { ws = null; $('session-id').textContent = 'disconnected'; };
};
$('btn-feedback').onclick = () => {
    feedbackOn = !feedbackOn;
    send({type: feedbackOn ? 'start_feedback' : 'stop_feedback'});
    $('btn-feedback').textContent = feedbackOn ? 'Feedback off' : 'Feedback on';
};
$('btn-pause').onclick = () => {
    paused = !paused;
    send({type: paused ? 'pause' : 'resume'});
    $('btn-pause').textContent = paused ? 'Resume' : 'Pause';
};
$('btn-stop').onclick = () => { if (ws) ws.close(); };
</script>
</body>
</html>
`
